package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go"
	"github.com/sithukyaw666/pushdeploy/internal/testutil"
	"github.com/sithukyaw666/pushdeploy/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const createConfig = `{
	"DeploymentConfiguration": {"S3Bucket": "b", "S3PrefixDeployments": "p/", "LambdaDirectory": "src"},
	"LambdaConfiguration": {
		"FunctionName": "ignored-name",
		"Handler": "main.handler",
		"Runtime": "python3.12",
		"Role": "arn:aws:iam::123:role/lambda",
		"MemorySize": 256,
		"Timeout": 30,
		"Environment": {"Variables": {"STAGE": "qa"}},
		"Code": {"S3Bucket": "old", "S3Key": "old.zip", "S3ObjectVersion": "v0"},
		"VpcConfig": {"SubnetIds": ["subnet-1"], "SecurityGroupIds": ["sg-1"]}
	}
}`

func TestFunctionProvisioner_UpdateCode(t *testing.T) {
	mock := &testutil.MockLambda{
		UpdateFunctionCodeFunc: func(_ context.Context, in *lambda.UpdateFunctionCodeInput) (*lambda.UpdateFunctionCodeOutput, error) {
			return &lambda.UpdateFunctionCodeOutput{FunctionArn: aws.String("arn:aws:lambda:us-east-1:123:function:f"), Version: aws.String("7")}, nil
		},
	}
	p := &FunctionProvisioner{Lambda: mock, Logger: testutil.Logger()}

	res, err := p.Provision(context.Background(), ProvisionRequest{
		FunctionName: "f",
		Reference:    model.ArtifactReference{Bucket: "b", Key: "k"},
	}, model.ModeUpdateCode)
	require.NoError(t, err)

	require.Len(t, mock.Updates, 1)
	in := mock.Updates[0]
	assert.Equal(t, "f", aws.ToString(in.FunctionName))
	assert.Equal(t, "b", aws.ToString(in.S3Bucket))
	assert.Equal(t, "k", aws.ToString(in.S3Key))
	assert.True(t, in.Publish)
	assert.Nil(t, in.S3ObjectVersion)
	assert.Empty(t, mock.Creates)

	assert.Equal(t, &model.ProvisionResult{
		Mode:         model.ModeUpdateCode,
		FunctionName: "f",
		FunctionARN:  "arn:aws:lambda:us-east-1:123:function:f",
		Version:      "7",
	}, res)
}

func TestFunctionProvisioner_UpdateCodePinsObjectVersion(t *testing.T) {
	mock := &testutil.MockLambda{}
	p := &FunctionProvisioner{Lambda: mock, Logger: testutil.Logger()}

	_, err := p.Provision(context.Background(), ProvisionRequest{
		FunctionName: "f",
		Reference:    model.ArtifactReference{Bucket: "b", Key: "k", VersionID: "v3"},
	}, model.ModeUpdateCode)
	require.NoError(t, err)
	require.Len(t, mock.Updates, 1)
	assert.Equal(t, "v3", aws.ToString(mock.Updates[0].S3ObjectVersion))
}

func TestFunctionProvisioner_UpdateCodeRejected(t *testing.T) {
	denied := &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "denied"}
	mock := &testutil.MockLambda{
		UpdateFunctionCodeFunc: func(context.Context, *lambda.UpdateFunctionCodeInput) (*lambda.UpdateFunctionCodeOutput, error) {
			return nil, denied
		},
	}
	p := &FunctionProvisioner{Lambda: mock, Logger: testutil.Logger()}

	res, err := p.Provision(context.Background(), ProvisionRequest{
		FunctionName: "f",
		Reference:    model.ArtifactReference{Bucket: "b", Key: "k"},
	}, model.ModeUpdateCode)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrProvision)
	assert.ErrorIs(t, err, denied)
}

func TestFunctionProvisioner_Create(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lambda-deploy.json", createConfig)

	mock := &testutil.MockLambda{
		CreateFunctionFunc: func(_ context.Context, in *lambda.CreateFunctionInput) (*lambda.CreateFunctionOutput, error) {
			return &lambda.CreateFunctionOutput{FunctionArn: aws.String("arn:fn"), Version: aws.String("1")}, nil
		},
	}
	p := &FunctionProvisioner{Lambda: mock, Logger: testutil.Logger()}

	res, err := p.Provision(context.Background(), ProvisionRequest{
		RepositoryID: "myrepo",
		LocalPath:    dir,
		MetadataFile: "lambda-deploy.json",
		FunctionName: "tagger",
		Artifact:     &model.Artifact{Name: "myrepo.zip", Content: []byte("PK\x03\x04zip")},
		Reference:    model.ArtifactReference{Bucket: "b", Key: "p/myrepo.zip"},
	}, model.ModeCreate)
	require.NoError(t, err)
	assert.Equal(t, model.ModeCreate, res.Mode)
	assert.Equal(t, "arn:fn", res.FunctionARN)

	require.Len(t, mock.Creates, 1)
	in := mock.Creates[0]
	assert.Equal(t, "tagger", aws.ToString(in.FunctionName))
	assert.Equal(t, "myrepo/main.handler", aws.ToString(in.Handler))
	assert.Equal(t, lambdatypes.Runtime("python3.12"), in.Runtime)
	assert.Equal(t, "arn:aws:iam::123:role/lambda", aws.ToString(in.Role))
	assert.Equal(t, int32(256), aws.ToInt32(in.MemorySize))
	assert.Equal(t, int32(30), aws.ToInt32(in.Timeout))
	require.NotNil(t, in.Environment)
	assert.Equal(t, map[string]string{"STAGE": "qa"}, in.Environment.Variables)
	assert.Nil(t, in.VpcConfig)
	assert.True(t, in.Publish)

	require.NotNil(t, in.Code)
	assert.Equal(t, []byte("PK\x03\x04zip"), in.Code.ZipFile)
	assert.Nil(t, in.Code.S3Bucket)
	assert.Nil(t, in.Code.S3Key)
	assert.Nil(t, in.Code.S3ObjectVersion)
	assert.Empty(t, mock.Updates)
}

func TestFunctionProvisioner_CreateUsesResolvedHandler(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "lambda-deploy.json", `{"LambdaConfiguration": {"Runtime": "python3.12", "Code": {}}}`)

	mock := &testutil.MockLambda{}
	p := &FunctionProvisioner{Lambda: mock, Logger: testutil.Logger()}

	_, err := p.Provision(context.Background(), ProvisionRequest{
		RepositoryID: "myrepo",
		LocalPath:    dir,
		MetadataFile: "lambda-deploy.json",
		FunctionName: "tagger",
		Handler:      "app.handler",
		Artifact:     &model.Artifact{Content: []byte("zip")},
	}, model.ModeCreate)
	require.NoError(t, err)
	require.Len(t, mock.Creates, 1)
	assert.Equal(t, "myrepo/app.handler", aws.ToString(mock.Creates[0].Handler))
}

func TestFunctionProvisioner_CreateRequiresSections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "no function section", content: `{"DeploymentConfiguration": {}}`, want: []string{"missing LambdaConfiguration"}},
		{name: "no handler", content: `{"LambdaConfiguration": {"Code": {}}}`, want: []string{"Handler is required"}},
		{name: "no code", content: `{"LambdaConfiguration": {"Handler": "h"}}`, want: []string{"Code is required"}},
		{name: "neither", content: `{"LambdaConfiguration": {"Runtime": "go1.x"}}`, want: []string{"Handler is required", "Code is required"}},
		{name: "wrong field type", content: `{"LambdaConfiguration": {"Handler": "h", "Code": {}, "MemorySize": "big"}}`, want: []string{"invalid LambdaConfiguration"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "lambda-deploy.json", tt.content)
			mock := &testutil.MockLambda{}
			p := &FunctionProvisioner{Lambda: mock, Logger: testutil.Logger()}

			_, err := p.Provision(context.Background(), ProvisionRequest{
				RepositoryID: "r",
				LocalPath:    dir,
				MetadataFile: "lambda-deploy.json",
				FunctionName: "f",
				Artifact:     &model.Artifact{Content: []byte("zip")},
			}, model.ModeCreate)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProvision)
			for _, want := range tt.want {
				assert.Contains(t, err.Error(), want)
			}
			assert.Empty(t, mock.Creates)
		})
	}
}

func TestFunctionProvisioner_SelectMode(t *testing.T) {
	boom := errors.New("throttled")

	tests := []struct {
		name      string
		mode      string
		getErr    error
		want      model.ProvisionMode
		wantErr   bool
		wantProbe bool
	}{
		{name: "forced create", mode: ModeCreate, want: model.ModeCreate},
		{name: "forced update", mode: ModeUpdate, want: model.ModeUpdateCode},
		{name: "auto existing", mode: ModeAuto, want: model.ModeUpdateCode, wantProbe: true},
		{name: "empty means auto", want: model.ModeUpdateCode, wantProbe: true},
		{
			name:      "auto missing typed",
			mode:      ModeAuto,
			getErr:    &lambdatypes.ResourceNotFoundException{Message: aws.String("Function not found")},
			want:      model.ModeCreate,
			wantProbe: true,
		},
		{
			name:      "auto missing generic",
			mode:      ModeAuto,
			getErr:    &smithy.GenericAPIError{Code: "ResourceNotFoundException"},
			want:      model.ModeCreate,
			wantProbe: true,
		},
		{name: "auto probe failure", mode: ModeAuto, getErr: boom, wantErr: true, wantProbe: true},
		{name: "unknown mode", mode: "sideways", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &testutil.MockLambda{
				GetFunctionFunc: func(context.Context, *lambda.GetFunctionInput) (*lambda.GetFunctionOutput, error) {
					if tt.getErr != nil {
						return nil, tt.getErr
					}
					return &lambda.GetFunctionOutput{}, nil
				},
			}
			p := &FunctionProvisioner{Lambda: mock, Mode: tt.mode, Logger: testutil.Logger()}

			got, err := p.SelectMode(context.Background(), "f")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrProvision)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}

			if tt.wantProbe {
				require.Len(t, mock.Gets, 1)
				assert.Equal(t, "f", aws.ToString(mock.Gets[0].FunctionName))
			} else {
				assert.Empty(t, mock.Gets)
			}
		})
	}
}
