// Package fusionrag provides a top-level convenience entry point for creating
// a hybrid retrieval pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/fusionrag"
//
//	p, err := fusionrag.New()
//	p, err := fusionrag.New(fusionrag.WithConfigPath("config.yaml"))
//	p, err := fusionrag.New(fusionrag.WithVectorStore(myStore), fusionrag.WithLogger(logger))
//
// This is a thin wrapper around [pipeline.NewOrchestratorFromConfig]; both
// produce identical results. Use this package when you prefer the shorter
// import path.
package fusionrag

import (
	"go.uber.org/zap"

	"github.com/BaSui01/fusionrag/config"
	"github.com/BaSui01/fusionrag/pipeline"
	"github.com/BaSui01/fusionrag/retrieval"
)

// Option configures the pipeline created by [New].
type Option func(*options)

type options struct {
	configPath   string
	pipelineOpts []pipeline.Option
}

// WithConfigPath loads configuration from a YAML file before applying
// environment overrides.
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithVectorStore sets the vector store backend.
func WithVectorStore(store retrieval.VectorStore) Option {
	return func(o *options) {
		o.pipelineOpts = append(o.pipelineOpts, pipeline.WithVectorStore(store))
	}
}

// WithGraphStore sets the graph store backend.
func WithGraphStore(store retrieval.GraphStore) Option {
	return func(o *options) {
		o.pipelineOpts = append(o.pipelineOpts, pipeline.WithGraphStore(store))
	}
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.pipelineOpts = append(o.pipelineOpts, pipeline.WithLogger(logger))
	}
}

// New creates a [pipeline.Orchestrator] from configuration defaults, an
// optional YAML file, and environment variables.
func New(opts ...Option) (*pipeline.Orchestrator, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	loader := config.NewLoader()
	if o.configPath != "" {
		loader = loader.WithConfigPath(o.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return pipeline.NewOrchestratorFromConfig(cfg, o.pipelineOpts...)
}
