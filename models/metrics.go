package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	appKeyLabel = "app_key"
)

var (
	tilemeshSceneCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scene_count",
		Help: "The number of scenes.",
	}, []string{appKeyLabel})

	tilemeshSceneCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_count_total",
		Help: "The total number of scenes.",
	}, []string{appKeyLabel})

	tilemeshRegionCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "region_count",
		Help: "The number of mesh regions.",
	}, []string{appKeyLabel})

	tilemeshTreeRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tree_rebuilds_total",
		Help: "The total number of scene tree rebuilds.",
	}, []string{appKeyLabel})

	tilemeshTreeRebuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "tree_rebuild_duration_seconds",
		Help: "The time to rebuild a scene tree.",
	}, []string{appKeyLabel})

	tilemeshTreeNodeCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tree_node_count",
		Help: "The node count of the latest scene tree.",
	}, []string{appKeyLabel})
)

func instrumentIncreaseSceneGauge(appKey string) {
	tilemeshSceneCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentDecreaseSceneGauge(appKey string) {
	tilemeshSceneCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Dec()
}

func instrumentCountScene(appKey string) {
	tilemeshSceneCountTotal.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentIncreaseRegionGauge(appKey string) {
	tilemeshRegionCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentDecreaseRegionGauge(appKey string) {
	tilemeshRegionCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Dec()
}

func instrumentTreeRebuild(appKey string, res RebuildResult) {
	labels := prometheus.Labels{appKeyLabel: appKey}
	tilemeshTreeRebuilds.With(labels).Inc()
	tilemeshTreeRebuildDuration.With(labels).Observe(res.Duration.Seconds())
	tilemeshTreeNodeCount.With(labels).Set(float64(res.NodeCount))
}
