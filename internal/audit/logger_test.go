package audit

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu   sync.Mutex
	logs []*models.CallLog
	err  error
}

func (s *fakeStore) AppendCallLog(ctx context.Context, log *models.CallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.logs = append(s.logs, log)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestLogSyncPersisteYSanea(t *testing.T) {
	store := &fakeStore{}
	l := New(store, testLogger(), 1, 8)
	defer l.Close()

	err := l.LogSync(context.Background(), &models.CallLog{
		Status:       models.CallStatusFailed,
		ErrorMessage: strings.Repeat("x", 800),
	})
	require.NoError(t, err)

	require.Equal(t, 1, store.count())
	assert.Len(t, store.logs[0].ErrorMessage, models.MaxErrorMessageLen)
	assert.False(t, store.logs[0].CreatedAt.IsZero())
}

func TestSnapshotJSONSeGuardaEntero(t *testing.T) {
	cuerpo := `{"ruc":"20123456789","detalle":"` + strings.Repeat("a", 2000) + `"}`
	assert.Equal(t, cuerpo, Snapshot(cuerpo))
}

func TestSnapshotNoJSONSeAcota(t *testing.T) {
	html := "<html>" + strings.Repeat("b", 2000) + "</html>"
	out := Snapshot(html)
	assert.Len(t, out, 500)
	assert.True(t, strings.HasPrefix(out, "<html>"))

	assert.Equal(t, "", Snapshot(""))
}

func TestLogAsyncProcesaEnSegundoPlano(t *testing.T) {
	store := &fakeStore{}
	l := New(store, testLogger(), 2, 8)

	for i := 0; i < 5; i++ {
		l.LogAsync(&models.CallLog{Status: models.CallStatusSuccess})
	}

	// Close drena la cola antes de retornar
	l.Close()
	assert.Equal(t, 5, store.count())
}

func TestLogAsyncDescartaConColaLlena(t *testing.T) {
	store := &fakeStore{}
	l := New(store, testLogger(), 1, 1)

	// Sin pánico aunque la cola rebalse; los excedentes se descartan
	for i := 0; i < 50; i++ {
		l.LogAsync(&models.CallLog{Status: models.CallStatusSuccess})
	}
	l.Close()

	assert.LessOrEqual(t, store.count(), 50)
}

func TestCloseEsIdempotente(t *testing.T) {
	l := New(&fakeStore{}, testLogger(), 1, 1)
	l.Close()
	l.Close()
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "", Truncate("", 5))
}
