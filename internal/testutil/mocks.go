// Package testutil provides fakes and fixtures shared by the package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/codecommit"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MockCodeCommit fakes the CodeCommit GetRepository call.
type MockCodeCommit struct {
	GetRepositoryFunc func(context.Context, *codecommit.GetRepositoryInput) (*codecommit.GetRepositoryOutput, error)

	mu    sync.Mutex
	Calls []*codecommit.GetRepositoryInput
}

func (m *MockCodeCommit) GetRepository(
	ctx context.Context,
	params *codecommit.GetRepositoryInput,
	_ ...func(*codecommit.Options),
) (*codecommit.GetRepositoryOutput, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, params)
	m.mu.Unlock()
	if m.GetRepositoryFunc != nil {
		return m.GetRepositoryFunc(ctx, params)
	}
	return &codecommit.GetRepositoryOutput{}, nil
}

// MockS3 fakes the S3 PutObject call and records every request.
type MockS3 struct {
	PutObjectFunc func(context.Context, *s3.PutObjectInput) (*s3.PutObjectOutput, error)

	mu   sync.Mutex
	Puts []*s3.PutObjectInput
}

func (m *MockS3) PutObject(
	ctx context.Context,
	params *s3.PutObjectInput,
	_ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	m.Puts = append(m.Puts, params)
	m.mu.Unlock()
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, params)
	}
	return &s3.PutObjectOutput{}, nil
}

// MockLambda fakes the Lambda calls used for provisioning.
type MockLambda struct {
	GetFunctionFunc        func(context.Context, *lambda.GetFunctionInput) (*lambda.GetFunctionOutput, error)
	CreateFunctionFunc     func(context.Context, *lambda.CreateFunctionInput) (*lambda.CreateFunctionOutput, error)
	UpdateFunctionCodeFunc func(context.Context, *lambda.UpdateFunctionCodeInput) (*lambda.UpdateFunctionCodeOutput, error)

	mu      sync.Mutex
	Gets    []*lambda.GetFunctionInput
	Creates []*lambda.CreateFunctionInput
	Updates []*lambda.UpdateFunctionCodeInput
}

func (m *MockLambda) GetFunction(
	ctx context.Context,
	params *lambda.GetFunctionInput,
	_ ...func(*lambda.Options),
) (*lambda.GetFunctionOutput, error) {
	m.mu.Lock()
	m.Gets = append(m.Gets, params)
	m.mu.Unlock()
	if m.GetFunctionFunc != nil {
		return m.GetFunctionFunc(ctx, params)
	}
	return &lambda.GetFunctionOutput{}, nil
}

func (m *MockLambda) CreateFunction(
	ctx context.Context,
	params *lambda.CreateFunctionInput,
	_ ...func(*lambda.Options),
) (*lambda.CreateFunctionOutput, error) {
	m.mu.Lock()
	m.Creates = append(m.Creates, params)
	m.mu.Unlock()
	if m.CreateFunctionFunc != nil {
		return m.CreateFunctionFunc(ctx, params)
	}
	return &lambda.CreateFunctionOutput{}, nil
}

func (m *MockLambda) UpdateFunctionCode(
	ctx context.Context,
	params *lambda.UpdateFunctionCodeInput,
	_ ...func(*lambda.Options),
) (*lambda.UpdateFunctionCodeOutput, error) {
	m.mu.Lock()
	m.Updates = append(m.Updates, params)
	m.mu.Unlock()
	if m.UpdateFunctionCodeFunc != nil {
		return m.UpdateFunctionCodeFunc(ctx, params)
	}
	return &lambda.UpdateFunctionCodeOutput{}, nil
}
