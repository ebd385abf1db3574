// internal/trigger/handler.go
package trigger

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"reminder-workers/internal/common/config"
	"reminder-workers/internal/common/logger"
	"reminder-workers/internal/common/metrics"
	"reminder-workers/internal/delivery"
	"reminder-workers/internal/models"
	"reminder-workers/internal/repository"
)

// Handler is the scheduler-invoked entry point. One invocation is one
// discrete batch run: authenticate, match, dispatch sequentially, report.
type Handler struct {
	matcher    *delivery.Matcher
	dispatcher *delivery.Dispatcher
	reminders  repository.ReminderStore
	lock       RunLock
	cfg        config.SchedulerConfig
	loc        *time.Location
	log        logger.Logger

	// now is injectable for deterministic tests.
	now func() time.Time
}

func NewHandler(
	matcher *delivery.Matcher,
	dispatcher *delivery.Dispatcher,
	reminders repository.ReminderStore,
	lock RunLock,
	cfg config.SchedulerConfig,
	log logger.Logger,
) *Handler {
	return &Handler{
		matcher:    matcher,
		dispatcher: dispatcher,
		reminders:  reminders,
		lock:       lock,
		cfg:        cfg,
		loc:        cfg.Location(),
		log:        log,
		now:        time.Now,
	}
}

// Register mounts the trigger route on the router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/api/cron/reminders", h.HandleTrigger)
}

func (h *Handler) HandleTrigger(c *gin.Context) {
	if !h.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	acquired, err := h.lock.Acquire(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to acquire run lock", nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run lock unavailable"})
		return
	}
	if !acquired {
		c.JSON(http.StatusConflict, gin.H{"error": "delivery run already in progress"})
		return
	}
	defer func() {
		if err := h.lock.Release(context.Background()); err != nil {
			h.log.WithError(err).Warn("failed to release run lock", nil)
		}
	}()

	started := h.now()
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.RunBudget())
	defer cancel()

	run, timedOut, runErr := h.execute(ctx, started)
	metrics.DeliveryRunDuration.Observe(time.Since(started).Seconds())

	switch {
	case timedOut:
		c.JSON(http.StatusRequestTimeout, gin.H{
			"success": false,
			"timeout": true,
			"checked": run.Checked,
			"sent":    run.Sent,
			"failed":  run.Failed,
			"errors":  run.Errors,
		})
	case runErr != nil:
		h.log.WithError(runErr).Error("delivery run failed", nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": runErr.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"timestamp": started.UTC().Format(time.RFC3339),
			"checked":   run.Checked,
			"sent":      run.Sent,
			"failed":    run.Failed,
			"errors":    run.Errors,
		})
	}
}

// execute runs matcher and dispatcher sequentially per reminder. Marker
// updates already applied stand when the budget expires; the day-level
// idempotency marker makes the next invocation safe.
func (h *Handler) execute(ctx context.Context, now time.Time) (models.DeliveryRun, bool, error) {
	run := models.DeliveryRun{Errors: []string{}}

	due, err := h.matcher.DueReminders(ctx, now)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return run, true, nil
		}
		return run, false, err
	}
	run.Checked = len(due)

	for _, reminder := range due {
		if ctx.Err() == context.DeadlineExceeded {
			return run, true, nil
		}

		outcome, err := delivery.DeliverAndMark(ctx, h.reminders, h.dispatcher, reminder, now, h.loc)
		run.Merge(outcome)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return run, true, nil
			}
			run.Errors = append(run.Errors, err.Error())
		}
	}

	h.log.Info("delivery run complete", map[string]interface{}{
		"checked": run.Checked,
		"sent":    run.Sent,
		"failed":  run.Failed,
	})
	return run, false, nil
}

// authorized accepts either the trusted-scheduler header or the shared
// secret. The secret comparison is constant-time over a digest so unequal
// lengths do not leak.
func (h *Handler) authorized(c *gin.Context) bool {
	if c.GetHeader(h.cfg.TrustedHeader) != "" {
		return true
	}

	secret := c.Query("secret")
	if secret == "" || h.cfg.CronSecret == "" {
		return false
	}
	given := sha256.Sum256([]byte(secret))
	want := sha256.Sum256([]byte(h.cfg.CronSecret))
	return subtle.ConstantTimeCompare(given[:], want[:]) == 1
}
