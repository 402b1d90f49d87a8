package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/codecommit"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/sithukyaw666/pushdeploy/model"
)

// CodeCommitAPI is the part of the CodeCommit client used to resolve clone URLs.
type CodeCommitAPI interface {
	GetRepository(ctx context.Context, params *codecommit.GetRepositoryInput, optFns ...func(*codecommit.Options)) (*codecommit.GetRepositoryOutput, error)
}

// S3API is the part of the S3 client used to publish artifacts.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// LambdaAPI is the part of the Lambda client used to provision functions.
type LambdaAPI interface {
	GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
}

var (
	_ CodeCommitAPI = (*codecommit.Client)(nil)
	_ S3API         = (*s3.Client)(nil)
	_ LambdaAPI     = (*lambda.Client)(nil)
)

// Clients bundles the three AWS services a deployment talks to.
type Clients struct {
	CodeCommit CodeCommitAPI
	S3         S3API
	Lambda     LambdaAPI
}

// ClientFactory builds the AWS clients for one event.
type ClientFactory func(ctx context.Context, ev *model.DeploymentEvent) (*Clients, error)

// NewClientFactory returns a factory backed by the AWS SDK. Inline event
// credentials take precedence over the profile and the default chain.
func NewClientFactory(cfg model.AWSConfig) ClientFactory {
	return func(ctx context.Context, ev *model.DeploymentEvent) (*Clients, error) {
		awsCfg, err := LoadAWSConfig(ctx, ev.Region, ev.Credentials, cfg)
		if err != nil {
			return nil, err
		}
		return &Clients{
			CodeCommit: codecommit.NewFromConfig(awsCfg),
			S3:         s3.NewFromConfig(awsCfg),
			Lambda:     lambda.NewFromConfig(awsCfg),
		}, nil
	}
}

// LoadAWSConfig resolves the SDK configuration for a region.
func LoadAWSConfig(ctx context.Context, region string, creds *model.Credentials, cfg model.AWSConfig) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if creds != nil {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, "")))
	} else if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return awsCfg, nil
}

// apiErrorCode returns the service error code of an AWS API failure, or "".
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
