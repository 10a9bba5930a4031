package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/proximity.report/internal/beacon"
	"github.com/banshee-data/proximity.report/internal/httputil"
)

// chartRecords returns the records to plot: one beacon when ?beacon_id= is
// given, otherwise every live record.
func (s *Server) chartRecords(r *http.Request) ([]beacon.Record, error) {
	id, err := queryBeaconID(r)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return s.t.Snapshot(), nil
	}
	rec, ok := s.t.Record(*id)
	if !ok {
		return nil, nil
	}
	return []beacon.Record{rec}, nil
}

// seconds before now, so the newest reading sits at x=0
func ago(now, at time.Time) float64 {
	return -now.Sub(at).Seconds()
}

// handleRSSIChart renders the RSSI history of live beacons as an HTML
// scatter chart. Missed cycles are left out.
func (s *Server) handleRSSIChart(w http.ResponseWriter, r *http.Request) {
	records, err := s.chartRecords(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(records) == 0 {
		httputil.NotFound(w, "no beacons tracked")
		return
	}
	now := s.clock.Now()

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Beacon RSSI", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Beacon RSSI", Subtitle: fmt.Sprintf("beacons=%d at %s", len(records), now.Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Seconds ago", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: beacon.MinRSSI, Max: 0, Name: "RSSI (dBm)", NameLocation: "middle", NameGap: 35}),
	)

	for _, rec := range records {
		data := make([]opts.ScatterData, 0, len(rec.History))
		for _, p := range rec.History {
			if p.RSSI == beacon.UnknownRSSI {
				continue
			}
			data = append(data, opts.ScatterData{Value: []interface{}{ago(now, p.At), p.RSSI}})
		}
		label := fmt.Sprintf("%d:%d %s", rec.ID.Major, rec.ID.Minor, rec.State)
		scatter.AddSeries(label, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleRSSIPlot renders the same history as a PNG line plot, one line per
// beacon. Missed cycles break the line.
func (s *Server) handleRSSIPlot(w http.ResponseWriter, r *http.Request) {
	records, err := s.chartRecords(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(records) == 0 {
		httputil.NotFound(w, "no beacons tracked")
		return
	}
	now := s.clock.Now()

	p := plot.New()
	p.Title.Text = "Beacon RSSI"
	p.X.Label.Text = "Seconds ago"
	p.Y.Label.Text = "RSSI (dBm)"
	p.Legend.Top = true

	for i, rec := range records {
		for j, run := range knownRuns(now, rec.History) {
			line, err := plotter.NewLine(run)
			if err != nil {
				httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
				return
			}
			line.Width = vg.Points(1)
			line.Color = plotutil.Color(i)
			p.Add(line)
			if j == 0 {
				p.Legend.Add(fmt.Sprintf("%d:%d", rec.ID.Major, rec.ID.Minor), line)
			}
		}
	}

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// knownRuns splits history into runs of consecutive known readings.
func knownRuns(now time.Time, history []beacon.RSSIPoint) []plotter.XYs {
	var runs []plotter.XYs
	var cur plotter.XYs
	for _, p := range history {
		if p.RSSI == beacon.UnknownRSSI {
			if len(cur) > 0 {
				runs = append(runs, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: ago(now, p.At), Y: float64(p.RSSI)})
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}
