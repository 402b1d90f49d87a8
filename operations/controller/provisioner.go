package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/hashicorp/go-multierror"
	"github.com/sithukyaw666/pushdeploy/model"
)

// Values accepted for the provision.mode setting.
const (
	ModeAuto   = "auto"
	ModeCreate = "create"
	ModeUpdate = "update"
)

// Fields dropped from the function configuration before a create call. The
// code is always inlined from the fresh artifact, and networking is left to
// whoever owns the function afterwards.
var (
	strippedCodeFields     = []string{"S3Key", "S3Bucket", "S3ObjectVersion"}
	strippedFunctionFields = []string{"VpcConfig"}
)

// ProvisionRequest carries everything a provisioning call may need.
type ProvisionRequest struct {
	RepositoryID string
	// LocalPath and MetadataFile locate the function configuration used by
	// create calls.
	LocalPath    string
	MetadataFile string
	FunctionName string
	// Handler is used by create calls when the function configuration
	// section has none.
	Handler   string
	Artifact  *model.Artifact
	Reference model.ArtifactReference
}

// FunctionProvisioner creates or updates the target Lambda function.
type FunctionProvisioner struct {
	Lambda  LambdaAPI
	Mode    string
	Timeout time.Duration
	Logger  *slog.Logger
}

// SelectMode decides between create and update-code. A forced mode wins;
// in auto mode the function is probed and created only when it is absent.
func (p *FunctionProvisioner) SelectMode(ctx context.Context, functionName string) (model.ProvisionMode, error) {
	switch p.Mode {
	case ModeCreate:
		return model.ModeCreate, nil
	case ModeUpdate:
		return model.ModeUpdateCode, nil
	case ModeAuto, "":
	default:
		return 0, ProvisionError("select mode", fmt.Errorf("unknown provision mode %q", p.Mode))
	}

	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()

	_, err := p.Lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(functionName)})
	switch {
	case err == nil:
		p.Logger.Debug("Function exists", "function", functionName)
		return model.ModeUpdateCode, nil
	case isNotFound(err):
		p.Logger.Info("Function does not exist yet", "function", functionName)
		return model.ModeCreate, nil
	default:
		return 0, ProvisionError("get function "+functionName, err)
	}
}

// Provision submits the create or update-code call for mode.
func (p *FunctionProvisioner) Provision(ctx context.Context, req ProvisionRequest, mode model.ProvisionMode) (*model.ProvisionResult, error) {
	if req.FunctionName == "" {
		return nil, ProvisionError("provision", errors.New("function name cannot be empty"))
	}

	switch mode {
	case model.ModeCreate:
		return p.create(ctx, req)
	case model.ModeUpdateCode:
		return p.updateCode(ctx, req)
	default:
		return nil, ProvisionError("provision", fmt.Errorf("unsupported mode %s", mode))
	}
}

func (p *FunctionProvisioner) updateCode(ctx context.Context, req ProvisionRequest) (*model.ProvisionResult, error) {
	ref := req.Reference
	if ref.Bucket == "" || ref.Key == "" {
		return nil, ProvisionError("update function code", errors.New("artifact reference is incomplete"))
	}

	input := &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(req.FunctionName),
		S3Bucket:     aws.String(ref.Bucket),
		S3Key:        aws.String(ref.Key),
		Publish:      true,
	}
	if ref.VersionID != "" {
		input.S3ObjectVersion = aws.String(ref.VersionID)
	}

	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()

	out, err := p.Lambda.UpdateFunctionCode(ctx, input)
	if err != nil {
		return nil, ProvisionError("update function code "+req.FunctionName, err)
	}

	result := &model.ProvisionResult{Mode: model.ModeUpdateCode, FunctionName: req.FunctionName}
	if out != nil {
		result.FunctionARN = aws.ToString(out.FunctionArn)
		result.Version = aws.ToString(out.Version)
	}
	p.Logger.Info("Updated function code",
		"function", req.FunctionName,
		"bucket", ref.Bucket,
		"key", ref.Key,
		"version", result.Version)
	return result, nil
}

func (p *FunctionProvisioner) create(ctx context.Context, req ProvisionRequest) (*model.ProvisionResult, error) {
	if req.Artifact == nil || len(req.Artifact.Content) == 0 {
		return nil, ProvisionError("create function", errors.New("artifact content is empty"))
	}

	input, err := BuildCreateInput(filepath.Join(req.LocalPath, req.MetadataFile), req.RepositoryID, req.Handler)
	if err != nil {
		return nil, ProvisionError("create function", err)
	}
	input.FunctionName = aws.String(req.FunctionName)
	input.Code.ZipFile = req.Artifact.Content

	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()

	out, err := p.Lambda.CreateFunction(ctx, input)
	if err != nil {
		return nil, ProvisionError("create function "+req.FunctionName, err)
	}

	result := &model.ProvisionResult{Mode: model.ModeCreate, FunctionName: req.FunctionName}
	if out != nil {
		result.FunctionARN = aws.ToString(out.FunctionArn)
		result.Version = aws.ToString(out.Version)
	}
	p.Logger.Info("Created function",
		"function", req.FunctionName,
		"handler", aws.ToString(input.Handler),
		"runtime", string(input.Runtime),
		"version", result.Version)
	return result, nil
}

// BuildCreateInput turns the function configuration section of the metadata
// file into a create request. The handler is rewritten to point inside the
// repository folder of the archive and the code location is left empty for
// the caller to fill. defaultHandler stands in for a missing Handler.
func BuildCreateInput(metadataPath, repositoryID, defaultHandler string) (*lambda.CreateFunctionInput, error) {
	doc, err := ParseMetadataFile(metadataPath)
	if err != nil {
		return nil, err
	}

	section, ok := asMap(doc[FunctionSection])
	if !ok {
		return nil, fmt.Errorf("missing %s section", FunctionSection)
	}

	var missing *multierror.Error
	handler := scalarString(section["Handler"])
	if handler == "" {
		handler = defaultHandler
	}
	if handler == "" {
		missing = multierror.Append(missing, fmt.Errorf("%s.Handler is required", FunctionSection))
	}
	code, ok := asMap(section["Code"])
	if !ok {
		missing = multierror.Append(missing, fmt.Errorf("%s.Code is required", FunctionSection))
	}
	if err := missing.ErrorOrNil(); err != nil {
		return nil, err
	}

	fn := stripped(section, strippedFunctionFields)
	fn["Code"] = stripped(code, append(strippedCodeFields, "ZipFile"))
	fn["Handler"] = repositoryID + "/" + handler

	body, err := json.Marshal(fn)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", FunctionSection, err)
	}
	input := &lambda.CreateFunctionInput{}
	if err := json.Unmarshal(body, input); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FunctionSection, err)
	}

	if input.Code == nil {
		input.Code = &lambdatypes.FunctionCode{}
	}
	input.Publish = true
	return input, nil
}

func stripped(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, field := range fields {
		delete(out, field)
	}
	return out
}

func isNotFound(err error) bool {
	var nf *lambdatypes.ResourceNotFoundException
	if errors.As(err, &nf) {
		return true
	}
	return apiErrorCode(err) == "ResourceNotFoundException"
}
