package main

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/objpool/fixedpool"
)

func newServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a Pool behind an HTTP debug endpoint and a Prometheus /metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			itemSize := viper.GetInt("item-size")
			slotCapacity := viper.GetInt("slot-capacity")

			reg := prometheus.NewRegistry()
			pool, err := fixedpool.New(nil, slotCapacity, itemSize,
				fixedpool.WithName("poolctl-serve"),
				fixedpool.WithMetricsRegisterer(reg),
			)
			if err != nil {
				return err
			}
			defer pool.Close()

			// Concurrent HTTP handlers reach the same *Pool from net/http's
			// goroutine-per-request model, so the diagnostic surface (not the
			// core) takes a mutex around each operation.
			var mu sync.Mutex

			gin.SetMode(gin.ReleaseMode)
			router := gin.New()
			router.Use(gin.Recovery())

			router.GET("/debug/pool", func(c *gin.Context) {
				mu.Lock()
				stats := pool.Stats()
				mu.Unlock()
				c.JSON(http.StatusOK, stats)
			})

			router.POST("/debug/pool/alloc", func(c *gin.Context) {
				mu.Lock()
				_, err := pool.Alloc()
				stats := pool.Stats()
				mu.Unlock()
				if err != nil {
					c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
					return
				}
				c.JSON(http.StatusOK, stats)
			})

			router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

			logrus.WithField("addr", listenAddr).Info("poolctl: serving")
			return router.Run(listenAddr)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen-addr", ":8080", "HTTP listen address")
	return cmd
}
