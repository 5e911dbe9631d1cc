// handlers_logs.go - Device reading and freshness handlers
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/iot-monitor/chartengine/internal/models"
	"github.com/iot-monitor/chartengine/internal/source"
)

const (
	mimeMsgpack = "application/msgpack"

	// DefaultPageLimit applies when logs_range is called without a limit.
	DefaultPageLimit = 5000
	// MaxPageLimit caps a single logs_range page.
	MaxPageLimit = 50000
)

// IngestResponse is the body returned by the ingest route.
type IngestResponse struct {
	Success    bool   `json:"success" msgpack:"success"`
	Accepted   int    `json:"accepted" msgpack:"accepted"`
	Duplicates int    `json:"duplicates" msgpack:"duplicates"`
	Rejected   int    `json:"rejected" msgpack:"rejected"`
	LastUpdate string `json:"last_update" msgpack:"last_update"`
}

// DevicesResponse lists devices known to the data source.
type DevicesResponse struct {
	Success bool     `json:"success" msgpack:"success"`
	Devices []string `json:"devices" msgpack:"devices"`
}

// LogsHandlerImpl implements the LogsHandler interface
type LogsHandlerImpl struct {
	source source.Store
	loc    *time.Location
	log    zerolog.Logger
}

// NewLogsHandler creates a logs handler over src. Naive timestamps are read in loc.
func NewLogsHandler(src source.Store, loc *time.Location, log zerolog.Logger) LogsHandler {
	if loc == nil {
		loc = time.Local
	}
	return &LogsHandlerImpl{
		source: src,
		loc:    loc,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// HandleLogsRange returns one page of readings for a device.
// GET /api/devices/:id/logs/range?from&to&keys&limit&offset
func (h *LogsHandlerImpl) HandleLogsRange(c echo.Context) error {
	deviceID := c.Param("id")
	if deviceID == "" {
		return NewValidationError("id", nil)
	}

	from, err := parseBound(c.QueryParam("from"), h.loc, false)
	if err != nil {
		return NewValidationError("from", err)
	}
	to, err := parseBound(c.QueryParam("to"), h.loc, true)
	if err != nil {
		return NewValidationError("to", err)
	}
	if from.After(to) {
		return NewBadRequestError("from must not be after to", nil)
	}

	limit, err := parseIntParam(c.QueryParam("limit"), DefaultPageLimit)
	if err != nil || limit <= 0 {
		return NewValidationError("limit", err)
	}
	limit = min(limit, MaxPageLimit)
	offset, err := parseIntParam(c.QueryParam("offset"), 0)
	if err != nil || offset < 0 {
		return NewValidationError("offset", err)
	}

	records, total, err := h.source.QueryRange(c.Request().Context(), deviceID, source.Query{
		From:   from,
		To:     to,
		Keys:   splitKeys(c.QueryParam("keys")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return NewInternalError("failed to query readings", err)
	}

	logs := make([]models.WireLog, len(records))
	for i, r := range records {
		logs[i] = r.ToWire()
	}

	return respond(c, http.StatusOK, models.LogsRangeResponse{
		Success: true,
		Logs:    logs,
		Total:   total,
		HasMore: offset+len(records) < total,
	})
}

// HandleLastUpdate returns the device's freshness token.
// GET /api/devices/:id/logs/last-update
func (h *LogsHandlerImpl) HandleLastUpdate(c echo.Context) error {
	deviceID := c.Param("id")
	if deviceID == "" {
		return NewValidationError("id", nil)
	}

	token, err := h.source.LastUpdate(c.Request().Context(), deviceID)
	if err != nil {
		return NewInternalError("failed to read last update", err)
	}

	return respond(c, http.StatusOK, models.LastUpdateResponse{
		Success:    true,
		LastUpdate: token,
	})
}

// HandleIngest stores wire records for a device. The body is a JSON or
// MessagePack array of records, or an object with a "logs" array.
// POST /api/devices/:id/logs
func (h *LogsHandlerImpl) HandleIngest(c echo.Context) error {
	deviceID := c.Param("id")
	if deviceID == "" {
		return NewValidationError("id", nil)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("failed to read request body", err)
	}
	wire, err := decodeIngestBody(body, c.Request().Header.Get(echo.HeaderContentType))
	if err != nil {
		return NewBadRequestError("invalid ingest body", err)
	}

	records := make([]models.LogRecord, 0, len(wire))
	rejected := 0
	for _, w := range wire {
		r, err := models.RecordFromWire(deviceID, w, h.loc)
		if err != nil {
			rejected++
			h.log.Debug().Err(err).Str("device", deviceID).Msg("rejected ingest record")
			continue
		}
		records = append(records, r)
	}

	res, err := h.source.Ingest(c.Request().Context(), deviceID, records)
	if err != nil {
		return NewInternalError("failed to store readings", err)
	}

	h.log.Info().
		Str("device", deviceID).
		Int("accepted", res.Accepted).
		Int("duplicates", res.Duplicates).
		Int("rejected", rejected).
		Str("token", res.Token).
		Msg("ingested readings")

	return respond(c, http.StatusOK, IngestResponse{
		Success:    true,
		Accepted:   res.Accepted,
		Duplicates: res.Duplicates,
		Rejected:   rejected,
		LastUpdate: res.Token,
	})
}

// HandleListDevices lists devices that have readings.
// GET /api/devices
func (h *LogsHandlerImpl) HandleListDevices(c echo.Context) error {
	devices, err := h.source.Devices(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to list devices", err)
	}
	return respond(c, http.StatusOK, DevicesResponse{Success: true, Devices: devices})
}

// respond writes v as MessagePack when the client accepts it, JSON otherwise.
func respond(c echo.Context, status int, v interface{}) error {
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), mimeMsgpack) {
		data, err := msgpack.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode msgpack: %w", err)
		}
		return c.Blob(status, mimeMsgpack, data)
	}
	return c.JSON(status, v)
}

func decodeIngestBody(body []byte, contentType string) ([]models.WireLog, error) {
	var wire []models.WireLog
	if strings.HasPrefix(contentType, mimeMsgpack) {
		if err := msgpack.Unmarshal(body, &wire); err != nil {
			return nil, err
		}
		return wire, nil
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope struct {
			Logs []models.WireLog `json:"logs"`
		}
		if err := decodeJSON(trimmed, &envelope); err != nil {
			return nil, err
		}
		return envelope.Logs, nil
	}
	if err := decodeJSON(trimmed, &wire); err != nil {
		return nil, err
	}
	return wire, nil
}

func decodeJSON(data []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

// parseBound reads a range bound. A bare calendar date covers the whole day:
// its first instant as a lower bound, its last millisecond as an upper bound.
func parseBound(s string, loc *time.Location, upper bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing value")
	}
	if day, err := time.ParseInLocation(models.DateLayout, s, loc); err == nil {
		if upper {
			return day.AddDate(0, 0, 1).Add(-time.Millisecond), nil
		}
		return day, nil
	}
	return models.ParseLoggedAt(s, loc)
}

func parseIntParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
