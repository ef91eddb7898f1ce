package main

import (
	"fmt"
	"time"

	"github.com/scientistigwe/pipelinecore/pkg/broker"
	"github.com/scientistigwe/pipelinecore/pkg/cpm"
	"github.com/scientistigwe/pipelinecore/pkg/metrics"
	"github.com/scientistigwe/pipelinecore/pkg/registry"
	"github.com/scientistigwe/pipelinecore/pkg/service"
	"github.com/scientistigwe/pipelinecore/pkg/snapshot"
	"github.com/scientistigwe/pipelinecore/pkg/staging"
	"github.com/scientistigwe/pipelinecore/pkg/types"
	"github.com/scientistigwe/pipelinecore/pkg/worker"
)

// departmentFacades lists the six processing chains the CPM routes
// stages to, with the manager identity each one's Facade registers
// under -- see pkg/cpm/tables.go's departmentManagerName, which this
// mirrors exactly.
var departmentFacades = []struct {
	Department types.Department
	Component  types.ComponentType
	Name       string
}{
	{types.DepartmentQuality, types.ComponentQualityManager, "quality_manager"},
	{types.DepartmentInsight, types.ComponentInsightManager, "insight_manager"},
	{types.DepartmentAnalytics, types.ComponentAnalyticsManager, "analytics_manager"},
	{types.DepartmentDecision, types.ComponentDecisionManager, "decision_manager"},
	{types.DepartmentRecommend, types.ComponentRecommendManager, "recommendation_manager"},
	{types.DepartmentReport, types.ComponentReportManager, "report_manager"},
}

// App wires one in-process instance of every core collaborator --
// broker, CPM, Staging, Conductor, snapshot store, and a Facade per
// department backed by worker.EchoHandler, since the concrete
// analyzers/generators are out of scope per spec.md §1. There is no
// long-running server: a pipelinectl invocation boots an App, does
// its work, and tears it down, which is why `apply` drives a pipeline
// to completion within its own process instead of handing off to a
// daemon that isn't there (no REST/gRPC surface is in scope either).
type App struct {
	Broker    *broker.Broker
	CPM       *cpm.Manager
	Staging   *staging.Manager
	Conductor *service.Conductor
	Snapshot  *snapshot.Manager

	stagingStore   *staging.Store
	facades        []*worker.Facade
	collector      *metrics.Collector
	sweeper        *staging.Sweeper
	timeoutMonitor *cpm.TimeoutMonitor
}

// NewApp boots every collaborator against dataDir's bbolt file.
func NewApp(dataDir string) (*App, error) {
	b := broker.New(registry.New(), broker.Options{Workers: 4, QueueDepth: 256})
	b.Start(4)
	metrics.RegisterComponent("broker", true, "")

	cpmMgr, err := cpm.NewManager(b, cpm.Options{})
	if err != nil {
		b.Stop()
		metrics.RegisterComponent("cpm", false, err.Error())
		return nil, fmt.Errorf("pipelinectl: cpm: %w", err)
	}
	metrics.RegisterComponent("cpm", true, "")

	stagingStore, err := staging.OpenStore(dataDir)
	if err != nil {
		b.Stop()
		return nil, fmt.Errorf("pipelinectl: staging store: %w", err)
	}
	stagingMgr, err := staging.NewManager(stagingStore, b)
	if err != nil {
		stagingStore.Close()
		b.Stop()
		metrics.RegisterComponent("staging", false, err.Error())
		return nil, fmt.Errorf("pipelinectl: staging manager: %w", err)
	}
	metrics.RegisterComponent("staging", true, "")

	collector := metrics.NewCollector(stagingMgr)
	collector.Start(15 * time.Second)

	sweeper := staging.NewSweeper(stagingMgr, 5*time.Minute)
	sweeper.Start()

	timeoutMonitor := cpm.NewTimeoutMonitor(cpmMgr, 30*time.Second)
	timeoutMonitor.Start()

	conductor, err := service.NewConductor(b, cpmMgr, stagingMgr)
	if err != nil {
		stagingStore.Close()
		b.Stop()
		return nil, fmt.Errorf("pipelinectl: conductor: %w", err)
	}

	snapStore, err := snapshot.Open(stagingStore.DB())
	if err != nil {
		stagingStore.Close()
		b.Stop()
		return nil, fmt.Errorf("pipelinectl: snapshot store: %w", err)
	}
	snapMgr := snapshot.NewManager(snapStore, cpmMgr)

	facades := make([]*worker.Facade, 0, len(departmentFacades))
	for _, d := range departmentFacades {
		f, err := worker.NewFacade(b, d.Department, d.Component, d.Name, worker.EchoHandler{})
		if err != nil {
			stagingStore.Close()
			b.Stop()
			return nil, fmt.Errorf("pipelinectl: facade %s: %w", d.Name, err)
		}
		facades = append(facades, f)
	}

	return &App{
		Broker:         b,
		CPM:            cpmMgr,
		Staging:        stagingMgr,
		Conductor:      conductor,
		Snapshot:       snapMgr,
		stagingStore:   stagingStore,
		facades:        facades,
		collector:      collector,
		sweeper:        sweeper,
		timeoutMonitor: timeoutMonitor,
	}, nil
}

// Close stops every background loop (metrics collector, staging
// sweeper, timeout monitor), then the broker's worker pool, then
// closes the bbolt database -- in that order so nothing still running
// can touch a closed collaborator.
func (a *App) Close() {
	a.collector.Stop()
	a.sweeper.Stop()
	a.timeoutMonitor.Stop()
	a.Broker.Stop()
	a.stagingStore.Close()
}
