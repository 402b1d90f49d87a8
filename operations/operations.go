package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"github.com/sithukyaw666/pushdeploy/model"
	"github.com/sithukyaw666/pushdeploy/operations/controller"
)

// Stage is a state of the deployment pipeline.
type Stage string

const (
	StageReceived    Stage = "Received"
	StageSynced      Stage = "Synced"
	StageConfigured  Stage = "Configured"
	StagePackaged    Stage = "Packaged"
	StagePublished   Stage = "Published"
	StageProvisioned Stage = "Provisioned"
	StageDone        Stage = "Done"
)

const (
	StatusOK     = "OK"
	StatusFailed = "FAILED"
)

// PipelineError reports the stage a run failed to reach and why.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("deployment failed at %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Pipeline runs one deployment per event:
// sync, resolve config, package, publish, provision.
type Pipeline struct {
	Config  model.Config
	Clients controller.ClientFactory
	Logger  *slog.Logger

	// Optional collaborators; zero values fall back to the OS filesystem, no
	// lock and no metrics.
	FS      billy.Filesystem
	Locker  Locker
	Metrics Metrics
	NewID   func() string

	// PruneWorkDirs removes earlier invocation directories under the work
	// root before each run. Only safe when runs never overlap, as in a
	// Lambda execution environment.
	PruneWorkDirs bool
}

// workflowStep runs one stage and returns the next, or nil when done.
type workflowStep func(ctx context.Context, w *workflow) (workflowStep, error)

// workflow is the state threaded through one run. Every stage output is a
// value set once by the stage that produces it.
type workflow struct {
	pipeline *Pipeline
	id       string
	event    *model.DeploymentEvent
	workDir  string
	logger   *slog.Logger
	clients  *controller.Clients
	stage    Stage
	locked   bool

	local     *model.LocalRepository
	config    model.DeploymentConfig
	artifact  *model.Artifact
	reference *model.ArtifactReference
	result    *model.ProvisionResult
	timings   []model.StageTiming
}

// Run deploys the repository named by ev. On failure the returned outcome
// still describes how far the run got, and the error is a *PipelineError
// wrapping the stage error.
func (p *Pipeline) Run(ctx context.Context, ev *model.DeploymentEvent) (*model.Outcome, error) {
	if ev == nil {
		return nil, errors.New("event cannot be nil")
	}
	w, err := p.newWorkflow(ev)
	if err != nil {
		return nil, err
	}
	defer p.unlock(ctx, w)

	w.logger.Info("Deployment received",
		"source_arn", ev.SourceARN.String(),
		"region", ev.Region,
		"references", ev.References,
		"inline_credentials", ev.Credentials != nil,
		"dry_run", p.Config.DryRun)

	start := time.Now()
	for step := workflowStep(receive); step != nil; {
		next, err := step(ctx, w)
		if err != nil {
			return p.fail(w, err)
		}
		step = next
	}

	w.stage = StageDone
	p.metrics().IncDeployments(StatusOK, "")
	for _, t := range w.timings {
		w.logger.Debug("Stage timing", "stage", t.Stage, "duration", t.Duration)
	}
	w.logger.Info("Deployment complete", "duration", time.Since(start))
	return w.outcome(StatusOK), nil
}

func (p *Pipeline) newWorkflow(ev *model.DeploymentEvent) (*workflow, error) {
	newID := p.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	id := newID()

	root, err := filepath.Abs(p.Config.WorkRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work root: %w", err)
	}
	return &workflow{
		pipeline: p,
		id:       id,
		event:    ev,
		workDir:  filepath.Join(root, id),
		logger:   p.Logger.With("invocation", id, "repository", ev.RepositoryID),
		stage:    StageReceived,
	}, nil
}

func (p *Pipeline) fail(w *workflow, err error) (*model.Outcome, error) {
	p.metrics().IncDeployments(StatusFailed, w.stage)
	w.logger.Error("Deployment failed", "stage", w.stage, "error", err)
	return w.outcome(StatusFailed), &PipelineError{Stage: w.stage, Err: err}
}

func (p *Pipeline) unlock(ctx context.Context, w *workflow) {
	if !w.locked {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.locker().Unlock(ctx, w.event.RepositoryID, w.id); err != nil {
		w.logger.Warn("Failed to release deployment lock", "error", err)
	}
}

func (p *Pipeline) pruneWorkDirs(w *workflow) {
	fs := p.fs()
	root := filepath.Dir(w.workDir)
	entries, err := fs.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("Failed to list work root", "path", root, "error", err)
		}
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == w.id {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := util.RemoveAll(fs, path); err != nil {
			w.logger.Warn("Failed to prune working directory", "path", path, "error", err)
			continue
		}
		w.logger.Debug("Pruned working directory", "path", path)
	}
}

func (p *Pipeline) locker() Locker {
	if p.Locker == nil {
		return NoopLocker{}
	}
	return p.Locker
}

func (p *Pipeline) metrics() Metrics {
	if p.Metrics == nil {
		return NoopMetrics{}
	}
	return p.Metrics
}

func (p *Pipeline) fs() billy.Filesystem {
	if p.FS == nil {
		return osfs.New("/")
	}
	return p.FS
}

// recordDuration is deferred by every step.
func (w *workflow) recordDuration(start time.Time, stage Stage) {
	elapsed := time.Since(start)
	w.timings = append(w.timings, model.StageTiming{Stage: string(stage), Duration: elapsed})
	w.pipeline.metrics().ObserveStage(stage, elapsed)
}

func (w *workflow) outcome(status string) *model.Outcome {
	out := &model.Outcome{
		InvocationID: w.id,
		Status:       status,
		Stage:        string(w.stage),
		Repository:   w.local,
		Config:       w.config,
		Artifact:     w.artifact,
		Reference:    w.reference,
		Provision:    w.result,
		Timings:      w.timings,
	}
	if status == StatusOK {
		out.Event = w.event.Augment(status)
	}
	return out
}

func receive(ctx context.Context, w *workflow) (workflowStep, error) {
	defer w.recordDuration(time.Now(), StageReceived)
	p := w.pipeline

	if p.PruneWorkDirs {
		p.pruneWorkDirs(w)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockWait(p.Config))
	defer cancel()
	if err := p.locker().Lock(lockCtx, w.event.RepositoryID, w.id); err != nil {
		return nil, controller.SyncError("lock "+w.event.RepositoryID, err)
	}
	w.locked = true

	clients, err := p.Clients(ctx, w.event)
	if err != nil {
		return nil, controller.SyncError("aws clients", err)
	}
	w.clients = clients
	return syncRepository, nil
}

func syncRepository(ctx context.Context, w *workflow) (workflowStep, error) {
	w.stage = StageSynced
	defer w.recordDuration(time.Now(), StageSynced)
	p := w.pipeline

	s := &controller.RepositorySync{
		CodeCommit: w.clients.CodeCommit,
		Git:        p.Config.Git,
		WorkDir:    w.workDir,
		Timeout:    p.Config.Timeouts.Sync,
		Logger:     w.logger,
	}
	local, err := s.Sync(ctx, w.event.RepositoryID)
	if err != nil {
		return nil, err
	}
	w.local = local
	return configure, nil
}

func configure(_ context.Context, w *workflow) (workflowStep, error) {
	w.stage = StageConfigured
	defer w.recordDuration(time.Now(), StageConfigured)
	p := w.pipeline

	r := &controller.ConfigResolver{Defaults: p.Config.Defaults, Logger: w.logger}
	w.config = r.Resolve(w.local.Path, p.Config.MetadataFile)
	return pack, nil
}

func pack(ctx context.Context, w *workflow) (workflowStep, error) {
	w.stage = StagePackaged
	defer w.recordDuration(time.Now(), StagePackaged)
	p := w.pipeline

	packager := &controller.ArtifactPackager{
		FS:         p.fs(),
		StagingDir: w.workDir,
		Exclude:    p.Config.Package.Exclude,
		Logger:     w.logger,
	}
	artifact, err := packager.Package(ctx, w.local.Path, w.config.Subtree, w.event.RepositoryID)
	if err != nil {
		return nil, err
	}
	w.artifact = artifact
	return publish, nil
}

func publish(ctx context.Context, w *workflow) (workflowStep, error) {
	w.stage = StagePublished
	defer w.recordDuration(time.Now(), StagePublished)
	p := w.pipeline

	if p.Config.DryRun {
		w.reference = &model.ArtifactReference{
			Bucket: w.config.Bucket,
			Key:    w.config.KeyPrefix + w.artifact.Name,
		}
		w.logger.Info("Bypassing S3 upload due to dry-run",
			"bucket", w.reference.Bucket,
			"key", w.reference.Key,
			"bytes", len(w.artifact.Content))
		return provision, nil
	}

	publisher := &controller.ArtifactPublisher{
		S3:      w.clients.S3,
		Timeout: p.Config.Timeouts.Publish,
		Logger:  w.logger,
	}
	ref, err := publisher.Publish(ctx, w.artifact, w.config.Bucket, w.config.KeyPrefix)
	if err != nil {
		return nil, err
	}
	w.reference = &ref
	return provision, nil
}

func provision(ctx context.Context, w *workflow) (workflowStep, error) {
	w.stage = StageProvisioned
	defer w.recordDuration(time.Now(), StageProvisioned)
	p := w.pipeline

	if p.Config.DryRun {
		w.logger.Info("Bypassing function provisioning due to dry-run",
			"function", w.config.FunctionName,
			"mode", p.Config.Provision.Mode)
		return nil, nil
	}

	provisioner := &controller.FunctionProvisioner{
		Lambda:  w.clients.Lambda,
		Mode:    p.Config.Provision.Mode,
		Timeout: p.Config.Timeouts.Provision,
		Logger:  w.logger,
	}
	mode, err := provisioner.SelectMode(ctx, w.config.FunctionName)
	if err != nil {
		return nil, err
	}

	result, err := provisioner.Provision(ctx, controller.ProvisionRequest{
		RepositoryID: w.event.RepositoryID,
		LocalPath:    w.local.Path,
		MetadataFile: p.Config.MetadataFile,
		FunctionName: w.config.FunctionName,
		Handler:      w.config.Handler,
		Artifact:     w.artifact,
		Reference:    *w.reference,
	}, mode)
	if err != nil {
		return nil, err
	}
	w.result = result
	return nil, nil
}

func lockWait(cfg model.Config) time.Duration {
	if cfg.Timeouts.Sync > 0 {
		return cfg.Timeouts.Sync
	}
	return time.Minute
}
