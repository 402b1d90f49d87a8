package controller

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sithukyaw666/pushdeploy/model"
)

// ArtifactPublisher uploads packaged artifacts to S3.
type ArtifactPublisher struct {
	S3      S3API
	Timeout time.Duration
	Logger  *slog.Logger
}

// Publish stores the artifact at bucket/<keyPrefix><artifact name>. The prefix
// is used verbatim, so "deployments/" and "deployments" give different keys.
func (p *ArtifactPublisher) Publish(ctx context.Context, artifact *model.Artifact, bucket, keyPrefix string) (model.ArtifactReference, error) {
	if artifact == nil || len(artifact.Content) == 0 {
		return model.ArtifactReference{}, PublishError("publish", errors.New("artifact is empty"))
	}
	if bucket == "" {
		return model.ArtifactReference{}, PublishError("publish", errors.New("bucket cannot be empty"))
	}

	key := keyPrefix + artifact.Name
	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(artifact.Content),
		ContentLength: aws.Int64(int64(len(artifact.Content))),
		ContentType:   aws.String(mimetype.Detect(artifact.Content).String()),
	}
	if artifact.SHA256 != "" {
		input.Metadata = map[string]string{"sha256": artifact.SHA256}
	}

	out, err := p.S3.PutObject(ctx, input)
	if err != nil {
		return model.ArtifactReference{}, PublishError("put s3://"+bucket+"/"+key, err)
	}

	ref := model.ArtifactReference{Bucket: bucket, Key: key}
	if out != nil {
		ref.VersionID = aws.ToString(out.VersionId)
	}

	p.Logger.Info("Uploaded artifact",
		"bucket", bucket,
		"key", key,
		"version", ref.VersionID,
		"bytes", len(artifact.Content))
	return ref, nil
}
