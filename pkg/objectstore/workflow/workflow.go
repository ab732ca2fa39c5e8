// Package workflow runs the container lifecycle walkthrough: create a
// container, inspect and tag it, round-trip a local file through it and
// clean everything up again.
package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/tendant/simple-objectstore/pkg/objectstore"
	"github.com/tendant/simple-objectstore/pkg/objectstore/naming"
)

// Step names one stage of the walkthrough
type Step string

const (
	StepCreateContainer Step = "create_container"
	StepGetProperties   Step = "get_properties"
	StepSetMetadata     Step = "set_metadata"
	StepGetMetadata     Step = "get_metadata"
	StepWriteLocalFile  Step = "write_local_file"
	StepUpload          Step = "upload"
	StepList            Step = "list"
	StepDownload        Step = "download"
	StepVerify          Step = "verify"
	StepCleanup         Step = "cleanup"
)

// Steps lists the stages in execution order
var Steps = []Step{
	StepCreateContainer,
	StepGetProperties,
	StepSetMetadata,
	StepGetMetadata,
	StepWriteLocalFile,
	StepUpload,
	StepList,
	StepDownload,
	StepVerify,
	StepCleanup,
}

// StepError reports the stage that aborted the walkthrough and the kind of
// failure behind it.
type StepError struct {
	Step Step
	Kind objectstore.Kind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepError(step Step, err error) *StepError {
	return &StepError{Step: step, Kind: objectstore.KindOf(err), Err: err}
}

// Config controls names and content of the walkthrough
type Config struct {
	DataDir         string
	ContainerPrefix string
	FilePrefix      string
	Content         string
	Metadata        map[string]string
}

// DefaultConfig mirrors the classic blob storage quickstart
func DefaultConfig() Config {
	return Config{
		DataDir:         "./data",
		ContainerPrefix: "wtblob",
		FilePrefix:      "wtfile",
		Content:         "Hello, World!",
		Metadata: map[string]string{
			"docType":  "textDocuments",
			"category": "guidance",
		},
	}
}

// Report collects what the walkthrough observed
type Report struct {
	Container    string                           `json:"container"`
	Properties   *objectstore.ContainerProperties `json:"properties,omitempty"`
	Metadata     map[string]string                `json:"metadata,omitempty"`
	ObjectName   string                           `json:"object_name"`
	LocalFile    string                           `json:"local_file"`
	DownloadFile string                           `json:"download_file"`
	Objects      []objectstore.ObjectEntry        `json:"objects"`
	Downloaded   int64                            `json:"downloaded_bytes"`
	Completed    []Step                           `json:"completed"`
}

// Walkthrough runs the lifecycle against a client
type Walkthrough struct {
	client *objectstore.Client
	config Config
	logger *slog.Logger
	names  *naming.Generator

	// OnStep is called after each stage completes successfully
	OnStep func(step Step, report *Report)

	// BeforeCleanup is called once the round trip finished, before anything
	// is deleted. An error from it is logged and cleanup still runs.
	BeforeCleanup func(ctx context.Context, report *Report) error
}

// Option configures a Walkthrough
type Option func(*Walkthrough)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Walkthrough) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithNames sets the name generator
func WithNames(g *naming.Generator) Option {
	return func(w *Walkthrough) {
		if g != nil {
			w.names = g
		}
	}
}

// WithConfig overrides the default configuration
func WithConfig(cfg Config) Option {
	return func(w *Walkthrough) {
		w.config = cfg
	}
}

// New creates a walkthrough
func New(client *objectstore.Client, options ...Option) *Walkthrough {
	w := &Walkthrough{
		client: client,
		config: DefaultConfig(),
		logger: slog.Default(),
		names:  naming.New(),
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run executes every stage strictly in order. The first failing stage stops
// the run and is returned as a *StepError; cleanup always runs and its
// failures are appended to the returned error.
func (w *Walkthrough) Run(ctx context.Context) (report *Report, err error) {
	report = &Report{}
	scope := objectstore.NewScope()

	defer func() {
		cerr := scope.Close(context.WithoutCancel(ctx))
		if cerr != nil {
			w.logger.Warn("Cleanup incomplete", "container", report.Container, "error", cerr)
			err = multierr.Append(err, stepError(StepCleanup, cerr))
			return
		}
		if err == nil {
			w.done(StepCleanup, report)
		}
	}()

	if err := w.runSteps(ctx, scope, report); err != nil {
		return report, err
	}

	if w.BeforeCleanup != nil {
		if err := w.BeforeCleanup(ctx, report); err != nil {
			w.logger.Warn("Pause before cleanup failed", "error", err)
		}
	}
	return report, nil
}

func (w *Walkthrough) done(step Step, report *Report) {
	report.Completed = append(report.Completed, step)
	w.logger.Info("Walkthrough step completed", "step", step, "container", report.Container)
	if w.OnStep != nil {
		w.OnStep(step, report)
	}
}

func (w *Walkthrough) runSteps(ctx context.Context, scope *objectstore.Scope, report *Report) error {
	cfg := w.config

	name, err := w.names.ContainerName(cfg.ContainerPrefix)
	if err != nil {
		return stepError(StepCreateContainer, err)
	}
	if _, err := w.client.CreateScopedContainer(ctx, scope, name); err != nil {
		return stepError(StepCreateContainer, err)
	}
	report.Container = name
	w.done(StepCreateContainer, report)

	props, err := w.client.GetProperties(ctx, name)
	if err != nil {
		return stepError(StepGetProperties, err)
	}
	report.Properties = props
	w.done(StepGetProperties, report)

	if err := w.client.SetMetadata(ctx, name, cfg.Metadata); err != nil {
		return stepError(StepSetMetadata, err)
	}
	w.done(StepSetMetadata, report)

	md, err := w.client.GetMetadata(ctx, name)
	if err != nil {
		return stepError(StepGetMetadata, err)
	}
	report.Metadata = md
	w.done(StepGetMetadata, report)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return stepError(StepWriteLocalFile, objectstore.WrapError(objectstore.KindValidation, err))
	}
	report.ObjectName = w.names.ObjectName(cfg.FilePrefix, ".txt")
	report.LocalFile = filepath.Join(cfg.DataDir, report.ObjectName)
	scope.RemoveFile(report.LocalFile)
	if err := os.WriteFile(report.LocalFile, []byte(cfg.Content), 0644); err != nil {
		return stepError(StepWriteLocalFile, objectstore.WrapError(objectstore.KindValidation, err))
	}
	w.done(StepWriteLocalFile, report)

	src, err := os.Open(report.LocalFile)
	if err != nil {
		return stepError(StepUpload, objectstore.WrapError(objectstore.KindValidation, err))
	}
	if _, err := w.client.UploadObject(ctx, name, report.ObjectName, src); err != nil {
		return stepError(StepUpload, err)
	}
	w.done(StepUpload, report)

	report.Objects = nil
	for entry, err := range w.client.ListObjects(ctx, name) {
		if err != nil {
			return stepError(StepList, err)
		}
		report.Objects = append(report.Objects, entry)
	}
	w.done(StepList, report)

	report.DownloadFile = filepath.Join(cfg.DataDir, naming.DownloadName(report.ObjectName))
	scope.RemoveFile(report.DownloadFile)
	dst, err := os.Create(report.DownloadFile)
	if err != nil {
		return stepError(StepDownload, objectstore.WrapError(objectstore.KindValidation, err))
	}
	entry, err := w.client.DownloadObject(ctx, name, report.ObjectName, dst)
	if err != nil {
		return stepError(StepDownload, err)
	}
	report.Downloaded = entry.Size
	w.done(StepDownload, report)

	got, err := os.ReadFile(report.DownloadFile)
	if err != nil {
		return stepError(StepVerify, objectstore.WrapError(objectstore.KindTransient, err))
	}
	if !bytes.Equal(got, []byte(cfg.Content)) {
		return stepError(StepVerify, objectstore.NewError(objectstore.KindTransient,
			"downloaded %d bytes do not match the %d uploaded", len(got), len(cfg.Content)))
	}
	w.done(StepVerify, report)

	return nil
}

// FailedStep returns the step that aborted a run, or "" when err carries none
func FailedStep(err error) Step {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
