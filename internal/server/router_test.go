package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"support-mail-ai-go/internal/config"
	"support-mail-ai-go/internal/handlers"
	"support-mail-ai-go/internal/metrics"
	"support-mail-ai-go/internal/queue"
	"support-mail-ai-go/internal/scheduler"
)

var testMetrics = metrics.NewMetrics()

func newTestRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	cfg := &config.SchedulerConfig{IngestIntervalMinutes: 5, WorkerIntervalMinutes: 1, JanitorIntervalMinutes: 5}
	sched := scheduler.NewScheduler(cfg, nil, nil, nil)
	h := handlers.NewHandlers(db, queue.New(db), sched, testMetrics)
	return SetupRouter(h), mock
}

func expectHealthPing(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
}

func TestRouterAssignsRequestID(t *testing.T) {
	router, mock := newTestRouter(t)
	expectHealthPing(mock)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRouterEchoesCallerRequestID(t *testing.T) {
	router, mock := newTestRouter(t)
	expectHealthPing(mock)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "ops-trace-42")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "ops-trace-42", w.Header().Get("X-Request-Id"))
}
