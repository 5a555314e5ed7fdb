// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jaycherian/go-shot-recall/internal/core/commands"
	"github.com/jaycherian/go-shot-recall/internal/core/model"
	"github.com/jaycherian/go-shot-recall/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recall HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := GetConfig()
	shutdownTelemetry, err := telemetry.SetupOpenTelemetry(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to setup telemetry: %v", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	InitState(ctx)
	defer ShutdownState()
	slog.Info("state initialized", "db", cfg.Storage.DatabasePath, "indexed", state.index.Len())

	r := gin.Default()
	r.Use(otelgin.Middleware(cfg.Application.Name))
	r.Use(cors.Default())

	apiV1 := r.Group("/api/v1")
	{
		AssetRouter(apiV1)
		RecallRouter(apiV1)
		RoughCutRouter(apiV1)
	}

	srv := &http.Server{
		Addr:         cfg.Application.ListenAddr,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to listen", "error", err)
		}
	}()
	slog.Info("server ready", "addr", cfg.Application.ListenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}

// httpStatus maps the model error classes onto HTTP statuses.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrAssetNotFound),
		errors.Is(err, model.ErrContextNotFound),
		errors.Is(err, model.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrIndexOutOfRange),
		errors.Is(err, model.ErrIndexMismatch):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, model.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": err.Error()})
}

// AssetRouter registers the asset lifecycle endpoints.
func AssetRouter(r *gin.RouterGroup) {
	assets := r.Group("/assets")
	{
		// POST /assets {"path": "/footage/harbor.mp4"}
		assets.POST("", func(c *gin.Context) {
			var body struct {
				Path string `json:"path" binding:"required"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			asset, err := state.assetService.Register(c.Request.Context(), body.Path)
			if err != nil {
				if errors.Is(err, model.ErrDuplicate) {
					c.JSON(http.StatusConflict, asset)
					return
				}
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, asset)
		})

		assets.GET("", func(c *gin.Context) {
			out, err := state.assetService.List(c.Request.Context())
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		assets.GET("/:id", func(c *gin.Context) {
			out, err := state.assetService.Get(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		assets.GET("/:id/progress", func(c *gin.Context) {
			out, err := state.assetService.Progress(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, out)
		})

		assets.POST("/:id/reprocess", func(c *gin.Context) {
			out, err := state.assetService.Reprocess(c.Request.Context(), c.Param("id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, out)
		})

		assets.DELETE("/:id", func(c *gin.Context) {
			if err := state.assetService.Delete(c.Request.Context(), c.Param("id")); err != nil {
				abortWithError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})
	}
}

// RecallRouter registers the query and candidate-switch endpoints.
func RecallRouter(r *gin.RouterGroup) {
	recall := r.Group("/recall")
	{
		// POST /recall runs the full ranking pass and caches the shortlist.
		recall.POST("", func(c *gin.Context) {
			var q model.QueryContext
			if err := c.ShouldBindJSON(&q); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			result, err := state.recallService.Recall(c.Request.Context(), &q)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		// GET /recall/:context_id returns the cached shortlist snapshot.
		recall.GET("/:context_id", func(c *gin.Context) {
			candidates, active, err := state.cache.Get(c.Param("context_id"))
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"context_id":   c.Param("context_id"),
				"candidates":   candidates,
				"active_index": active,
			})
		})

		// POST /recall/:context_id/switch flips the active candidate from
		// cache only; the ranker is never re-run here.
		recall.POST("/:context_id/switch", func(c *gin.Context) {
			var body struct {
				Index int `json:"index"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			candidate, err := state.recallService.Switch(c.Param("context_id"), body.Index)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, candidate)
		})
	}
}

// RoughCutRouter registers the rough-cut extraction endpoint.
func RoughCutRouter(r *gin.RouterGroup) {
	// POST /roughcut materializes the context's active candidate (or an
	// explicit shortlist index) as a standalone clip.
	r.POST("/roughcut", func(c *gin.Context) {
		var body struct {
			ContextId string `json:"context_id" binding:"required"`
			Index     *int   `json:"index,omitempty"`
			OutputDir string `json:"output_dir,omitempty"`
			Container string `json:"container,omitempty"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var candidate *model.Candidate
		var err error
		if body.Index != nil {
			candidate, err = state.cache.Switch(body.ContextId, *body.Index)
		} else {
			candidate, err = state.cache.Active(body.ContextId)
		}
		if err != nil {
			abortWithError(c, err)
			return
		}

		outputPath, err := state.roughCut.Cut(c.Request.Context(), &commands.RoughCutRequest{
			Candidate: candidate,
			Output:    model.OutputSpec{Directory: body.OutputDir, Container: body.Container},
		})
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"path": outputPath, "candidate": candidate})
	})
}
