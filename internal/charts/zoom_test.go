package charts

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iot-monitor/chartengine/internal/models"
)

func TestZoomCoordinator(t *testing.T) {
	t.Run("set overwrites without history", func(t *testing.T) {
		z := NewZoomCoordinator()
		assert.Nil(t, z.Current())

		z.Set(models.ZoomRange{Min: 1, Max: 2})
		z.Set(models.ZoomRange{Min: 3, Max: 4})
		assert.Equal(t, &models.ZoomRange{Min: 3, Max: 4}, z.Current())

		z.Reset()
		assert.Nil(t, z.Current())
	})

	t.Run("invalid window resets", func(t *testing.T) {
		z := NewZoomCoordinator()
		z.Set(models.ZoomRange{Min: 1, Max: 2})
		z.Set(models.ZoomRange{Min: 5, Max: 5})
		assert.Nil(t, z.Current())
	})

	t.Run("current returns a copy", func(t *testing.T) {
		z := NewZoomCoordinator()
		z.Set(models.ZoomRange{Min: 1, Max: 2})
		got := z.Current()
		got.Max = 100
		assert.Equal(t, 2.0, z.Current().Max)
	})

	t.Run("subscribers notified until unsubscribed", func(t *testing.T) {
		z := NewZoomCoordinator()
		var a, b []*models.ZoomRange
		unsubA := z.Subscribe(func(r *models.ZoomRange) { a = append(a, r) })
		z.Subscribe(func(r *models.ZoomRange) { b = append(b, r) })

		z.Set(models.ZoomRange{Min: 1, Max: 2})
		unsubA()
		unsubA()
		z.Reset()

		assert.Len(t, a, 1)
		assert.Len(t, b, 2)
		assert.Nil(t, b[1])
	})
}
