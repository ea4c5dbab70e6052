// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package chart renders snapshot history as HTML line charts.
package chart

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/danricho/projecta-RS485-reverse-engineering/pkg/projecta"
)

// Point is one snapshot in time
type Point struct {
	Time   time.Time
	Values map[string]float64
}

// DefaultFields are charted when none are requested
var DefaultFields = []projecta.Field{
	projecta.FieldBatteryVoltage,
	projecta.FieldBatteryCurrent,
	projecta.FieldBatterySOC,
	projecta.FieldSolarInputCurrent,
	projecta.FieldOutputCurrent,
	projecta.FieldACChargerCurrent,
}

// RenderHistory writes an HTML page with one line chart per unit (volts,
// amps, percent, ...) so that series sharing an axis are comparable
func RenderHistory(w io.Writer, title string, points []Point, fields []projecta.Field) error {
	if len(fields) == 0 {
		fields = DefaultFields
	}

	xAxis := make([]string, len(points))
	for i, p := range points {
		xAxis[i] = p.Time.Format("2006-01-02 15:04:05")
	}

	subtitle := "no data"
	if len(points) > 0 {
		subtitle = fmt.Sprintf("%s to %s (%d snapshots)",
			points[0].Time.Format(time.RFC3339), points[len(points)-1].Time.Format(time.RFC3339), len(points))
	}

	page := components.NewPage()
	page.PageTitle = title

	for _, group := range groupByUnit(fields) {
		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "420px"}),
			charts.WithTitleOpts(opts.Title{Title: group.label, Subtitle: subtitle}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
			charts.WithYAxisOpts(opts.YAxis{Name: group.unit, Scale: opts.Bool(true)}),
		)
		line.SetXAxis(xAxis)

		for _, f := range group.fields {
			data := make([]opts.LineData, len(points))
			for i, p := range points {
				if v, ok := p.Values[f.String()]; ok {
					data[i] = opts.LineData{Value: v}
				} else {
					data[i] = opts.LineData{Value: "-"}
				}
			}
			line.AddSeries(f.String(), data)
		}
		page.AddCharts(line)
	}

	return page.Render(w)
}

type unitGroup struct {
	unit   string
	label  string
	fields []projecta.Field
}

func groupByUnit(fields []projecta.Field) []unitGroup {
	var groups []unitGroup
	index := map[string]int{}
	for _, f := range fields {
		unit := f.Info().Unit
		i, ok := index[unit]
		if !ok {
			i = len(groups)
			index[unit] = i
			groups = append(groups, unitGroup{unit: unit, label: unitLabel(unit)})
		}
		groups[i].fields = append(groups[i].fields, f)
	}
	return groups
}

func unitLabel(unit string) string {
	switch unit {
	case "V":
		return "Voltage"
	case "A":
		return "Current"
	case "%":
		return "Level"
	default:
		return "State"
	}
}
