package eventscore

import (
	runtimepkg "github.com/drblury/eventscore/internal/runtime"
	configpkg "github.com/drblury/eventscore/internal/runtime/config"
	"github.com/drblury/eventscore/internal/runtime/discovery"
	errspkg "github.com/drblury/eventscore/internal/runtime/errors"
	idspkg "github.com/drblury/eventscore/internal/runtime/ids"
	"github.com/drblury/eventscore/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventscore/internal/runtime/logging"
)

type (
	Config                = configpkg.Config
	ConfigValidationError = errspkg.ConfigValidationError

	Core               = runtimepkg.Core
	CoreDependencies   = runtimepkg.CoreDependencies
	ConsumerFunc       = runtimepkg.ConsumerFunc
	Consumer           = runtimepkg.Consumer
	ConsumerBuilder    = runtimepkg.ConsumerBuilder
	Registration       = runtimepkg.Registration
	RegistrationOption = runtimepkg.RegistrationOption
	Catalog            = discovery.Catalog

	Pipeline          = runtimepkg.Pipeline
	PipelineItem      = runtimepkg.PipelineItem
	PipelineProcessor = runtimepkg.PipelineProcessor
	Worker            = runtimepkg.Worker
	WorkerRunner      = runtimepkg.WorkerRunner
	WorkerSpawner     = runtimepkg.WorkerSpawner
	GoroutineSpawner  = runtimepkg.GoroutineSpawner
	Handle            = runtimepkg.Handle
	Runner            = runtimepkg.Runner
	RunnerOption      = runtimepkg.RunnerOption
	RunStats          = runtimepkg.RunStats
	Producer          = runtimepkg.Producer

	ConsumerMiddleware     = runtimepkg.ConsumerMiddleware
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	PanicError             = runtimepkg.PanicError

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	Metrics             = runtimepkg.Metrics
	StatsRegistry       = runtimepkg.StatsRegistry
	WorkerStats         = runtimepkg.WorkerStats
	WorkerStatsSnapshot = runtimepkg.WorkerStatsSnapshot
	LatencyMetrics      = runtimepkg.LatencyMetrics
	ThroughputMetrics   = runtimepkg.ThroughputMetrics
	ResourceUsage       = runtimepkg.ResourceUsage

	AdminSource  = runtimepkg.AdminSource
	AdminOptions = runtimepkg.AdminOptions
	WorkerView   = runtimepkg.WorkerView

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
)

// Unbounded lets a runner process events until its context ends.
const Unbounded = runtimepkg.Unbounded

var (
	NewCore      = runtimepkg.NewCore
	WithClones   = runtimepkg.WithClones
	WithIdentity = runtimepkg.WithIdentity

	// Declare records a consumer in the default catalog, typically from an
	// init function, for Core.DiscoverConsumers to pick up.
	Declare        = discovery.Declare
	NewCatalog     = discovery.NewCatalog
	DefaultCatalog = discovery.DefaultCatalog

	NewPipeline          = runtimepkg.NewPipeline
	NewPipelineProcessor = runtimepkg.NewPipelineProcessor
	NewConsumer          = runtimepkg.NewConsumer
	NewConsumerBuilder   = runtimepkg.NewConsumerBuilder
	DefaultRunnerBuilder = runtimepkg.DefaultRunnerBuilder
	NewRunner            = runtimepkg.NewRunner
	NewGoroutineSpawner  = runtimepkg.NewGoroutineSpawner
	NewProducer          = runtimepkg.NewProducer

	WithMaxEvents    = runtimepkg.WithMaxEvents
	WithPopTimeout   = runtimepkg.WithPopTimeout
	WithRunnerLogger = runtimepkg.WithRunnerLogger
	WithMetrics      = runtimepkg.WithMetrics
	WithTracer       = runtimepkg.WithTracer
	WithStats        = runtimepkg.WithStats

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LoggingMiddleware       = runtimepkg.LoggingMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	TimeoutMiddleware       = runtimepkg.TimeoutMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	CorrelationID           = runtimepkg.CorrelationID
	WithCorrelationID       = runtimepkg.WithCorrelationID

	// Job lifecycle hooks
	JobHooksMiddleware = runtimepkg.JobHooksMiddleware
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks

	NewMetrics       = runtimepkg.NewMetrics
	NewStatsRegistry = runtimepkg.NewStatsRegistry
	NewAdminHandler  = runtimepkg.NewAdminHandler
	ServeAdmin       = runtimepkg.ServeAdmin

	DefaultConfig = configpkg.Default
	LoadConfig    = configpkg.Load

	NewLogger                 = loggingpkg.New
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillLoggerAdapter = loggingpkg.NewWatermillAdapter
	NopLogger                 = loggingpkg.Nop

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	CreateULID = idspkg.CreateULID

	ErrStreamRequired      = errspkg.ErrStreamRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrAlreadySpawned      = errspkg.ErrAlreadySpawned
	ErrInvalidRegistration = errspkg.ErrInvalidRegistration
	ErrEmptyPipeline       = errspkg.ErrEmptyPipeline
	ErrClonesMismatch      = errspkg.ErrClonesMismatch
	ErrUnrelatedConsumers  = errspkg.ErrUnrelatedConsumers
	ErrNoConsumers         = errspkg.ErrNoConsumers
	ErrInvalidMaxEvents    = errspkg.ErrInvalidMaxEvents

	ErrDiscoveryRootNotFound     = errspkg.ErrDiscoveryRootNotFound
	ErrDiscoveryRootNotDirectory = errspkg.ErrDiscoveryRootNotDirectory
	ErrDiscoveryRootNotPackage   = errspkg.ErrDiscoveryRootNotPackage
)
