// internal/api/handlers.go
package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tamzrod/hsc-probe/internal/addrmap"
	"github.com/tamzrod/hsc-probe/internal/poller"
	pmodbus "github.com/tamzrod/hsc-probe/internal/poller/modbus"
	"github.com/tamzrod/hsc-probe/internal/status"
	"github.com/tamzrod/hsc-probe/internal/writer"
)

// ---- connection ----

type connectRequest struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baudRate"`
	SlaveID  int    `json:"slaveId"`
}

type connectionView struct {
	ID       string    `json:"id"`
	Port     string    `json:"port"`
	BaudRate int       `json:"baudRate"`
	SlaveID  byte      `json:"slaveId"`
	OpenedAt time.Time `json:"openedAt"`
}

func viewConnection(c pmodbus.Connection) *connectionView {
	return &connectionView{
		ID:       c.ID,
		Port:     c.Port,
		BaudRate: c.BaudRate,
		SlaveID:  c.SlaveID,
		OpenedAt: c.OpenedAt,
	}
}

func connect(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := connectRequest{}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				fail(c, fmt.Errorf("%w: %v", ErrMalformedJSON, err))
				return
			}
		}

		p := s.defaults
		if req.Port != "" {
			p.Port = req.Port
		}
		if req.BaudRate != 0 {
			p.BaudRate = req.BaudRate
		}
		if req.SlaveID != 0 {
			if req.SlaveID < pmodbus.MinSlaveID || req.SlaveID > pmodbus.MaxSlaveID {
				fail(c, fmt.Errorf("%w: slave id %d", pmodbus.ErrInvalidParams, req.SlaveID))
				return
			}
			p.SlaveID = byte(req.SlaveID)
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), controlTimeout)
		defer cancel()

		conn, err := s.sched.Connect(ctx, p)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, viewConnection(conn))
	}
}

func disconnect(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), controlTimeout)
		defer cancel()

		if err := s.sched.Disconnect(ctx); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ---- polling ----

type pollingRequest struct {
	Enabled    *bool `json:"enabled"`
	IntervalMs int   `json:"intervalMs"`
}

type pollingView struct {
	Enabled    bool   `json:"enabled"`
	IntervalMs int64  `json:"intervalMs"`
	Cycles     uint64 `json:"cycles"`
}

func (s *Server) pollingView() pollingView {
	enabled, interval := s.sched.Polling()
	return pollingView{
		Enabled:    enabled,
		IntervalMs: interval.Milliseconds(),
		Cycles:     s.sched.Cycles(),
	}
}

func setPolling(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := pollingRequest{}
		if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
			fail(c, fmt.Errorf("%w: enabled is required", ErrMalformedJSON))
			return
		}

		if err := s.sched.SetPolling(*req.Enabled, time.Duration(req.IntervalMs)*time.Millisecond); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, s.pollingView())
	}
}

// ---- one-shots ----

func readBlock(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.sched.ReadBlock(c.Param("name"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, acceptedResponse{ID: id})
	}
}

type writeCoilRequest struct {
	Value *bool `json:"value"`
}

func writeCoil(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := writeCoilRequest{}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				fail(c, fmt.Errorf("%w: %v", ErrMalformedJSON, err))
				return
			}
		}
		value := true
		if req.Value != nil {
			value = *req.Value
		}

		id, err := s.sched.WriteCoil(c.Param("coil"), value)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, acceptedResponse{ID: id})
	}
}

func toggleOutput(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			fail(c, fmt.Errorf("%w: %q", poller.ErrOutputRange, c.Param("index")))
			return
		}

		id, err := s.sched.ToggleOutput(index)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, acceptedResponse{ID: id})
	}
}

// ---- address map ----

type blockView struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	Function string   `json:"function"`
	Start    uint16   `json:"start"`
	Count    uint16   `json:"count"`
	Device   string   `json:"device"`
	Labels   []string `json:"labels"`
	Polled   bool     `json:"polled"`
}

type coilView struct {
	Name            string `json:"name"`
	Title           string `json:"title"`
	Address         uint16 `json:"address"`
	Device          string `json:"device"`
	ExpectException string `json:"expectException,omitempty"`
}

type mapView struct {
	Blocks []blockView `json:"blocks"`
	Coils  []coilView  `json:"coils"`
}

func listBlocks(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := s.sched.Map()

		polled := map[string]bool{}
		for _, b := range m.PollCycle() {
			polled[b.Name] = true
		}

		out := mapView{}
		for _, b := range m.Blocks() {
			labels := make([]string, b.Count)
			for i := range labels {
				labels[i] = b.Label(i)
			}
			out.Blocks = append(out.Blocks, blockView{
				Name:     b.Name,
				Title:    b.Title,
				Function: b.Function.String(),
				Start:    b.Start,
				Count:    b.Count,
				Device:   addrmap.DeviceNotation(b.Start),
				Labels:   labels,
				Polled:   polled[b.Name],
			})
		}
		for _, cl := range m.Coils() {
			v := coilView{
				Name:    cl.Name,
				Title:   cl.Title,
				Address: cl.Address,
				Device:  addrmap.DeviceNotation(cl.Address),
			}
			if cl.ExpectException != 0 {
				v.ExpectException = fmt.Sprintf("0x%02X", cl.ExpectException)
			}
			out.Coils = append(out.Coils, v)
		}
		c.JSON(http.StatusOK, out)
	}
}

// ---- status ----

type valueView struct {
	Label string `json:"label"`
	Value uint16 `json:"value"`
}

type resultView struct {
	Block     string      `json:"block"`
	Function  string      `json:"function"`
	Result    string      `json:"result"`
	Exception string      `json:"exception,omitempty"`
	Values    []valueView `json:"values,omitempty"`
	At        time.Time   `json:"at"`
}

type statusView struct {
	Connection *connectionView `json:"connection"`
	Polling    pollingView     `json:"polling"`
	Health     string          `json:"health"`
	Snapshot   status.Snapshot `json:"snapshot"`
	Blocks     []resultView    `json:"blocks"`
}

func (s *Server) resultView(ev poller.Event) resultView {
	row := writer.RowFor(ev)
	v := resultView{
		Block:     ev.Block,
		Function:  row.Function,
		Result:    row.Result,
		Exception: row.Exception,
		At:        row.Timestamp,
	}
	if ev.Err != nil {
		return v
	}

	b, err := s.sched.Map().Block(ev.Block)
	if err != nil {
		return v
	}
	for i, bit := range ev.Bits {
		var n uint16
		if bit {
			n = 1
		}
		v.Values = append(v.Values, valueView{Label: b.Label(i), Value: n})
	}
	for i, r := range ev.Registers {
		v.Values = append(v.Values, valueView{Label: b.Label(i), Value: r})
	}
	return v
}

func getStatus(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := s.tracker.Snapshot()
		out := statusView{
			Polling:  s.pollingView(),
			Health:   status.HealthText(snap.Health),
			Snapshot: snap,
			Blocks:   []resultView{},
		}
		if conn, ok := s.sched.Connection(); ok {
			out.Connection = viewConnection(conn)
		}

		latest := s.tracker.Latest()
		names := make([]string, 0, len(latest))
		for name := range latest {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out.Blocks = append(out.Blocks, s.resultView(latest[name]))
		}

		c.JSON(http.StatusOK, out)
	}
}

// ---- journal ----

type journalView struct {
	Lines []string `json:"lines"`
}

func getJournal(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("format") == "csv" {
			var buf bytes.Buffer
			if err := s.journal.WriteCSV(&buf); err != nil {
				fail(c, err)
				return
			}
			c.Header("Content-Disposition", `attachment; filename="hsc-probe-journal.csv"`)
			c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
			return
		}
		c.JSON(http.StatusOK, journalView{Lines: s.journal.Lines()})
	}
}
