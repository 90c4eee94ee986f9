package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var feedRequests = promauto.NewCounter(prometheus.CounterOpts{
	Name: "atrarium_feed_requests",
	Help: "Number of feed skeleton requests served",
})

var postsExpired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "atrarium_posts_expired",
	Help: "Number of post index entries removed by the retention sweep",
})
