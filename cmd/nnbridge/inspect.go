package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/woxQAQ/nnbridge/internal/demux"
	"github.com/woxQAQ/nnbridge/internal/host"
	"github.com/woxQAQ/nnbridge/internal/inference"
	"github.com/woxQAQ/nnbridge/internal/inference/local"
	"github.com/woxQAQ/nnbridge/internal/model"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [model-location]",
		Short: "Show a model's signature, output routing and weights",
		Long: "Fetch and decode the model at model-location (default: model_location from\n" +
			"the configuration) and show where each output would be routed in guest memory.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			location := cfg.ModelLocation
			if len(args) == 1 {
				location = args[0]
			}

			rt := host.NewLocalRuntime(cfg, logger)
			m, weights, err := rt.LoadWeights(cmd.Context(), model.ManifestURL(location))
			if err != nil {
				return err
			}

			layout := demux.Layout{BoardX: cfg.Layout.BoardX, BoardY: cfg.Layout.BoardY}
			router, err := demux.NewRouter(layout, logger, false)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Model %s (%s)\n\n", location, m.Format)
			renderTable(w, []string{"NODE", "DIRECTION", "SHAPE", "ROUTE"}, signatureRows(m, router))
			fmt.Fprintln(w)

			rows, total := weightRows(m, weights)
			renderTable(w, []string{"WEIGHT", "SHAPE", "DTYPE", "SIZE"}, rows)
			fmt.Fprintf(w, "\n%d weights, %s\n", len(rows), humanize.Bytes(total))
			return nil
		},
	}
}

// signatureRows lists inputs then outputs. Each output shows the destination it
// would be written to for a single-row batch.
func signatureRows(m *local.Manifest, router *demux.Router) [][]string {
	var rows [][]string
	for _, name := range m.InputNames() {
		rows = append(rows, []string{name, "input", fmt.Sprint(m.Signature.Inputs[name].Shape), "-"})
	}

	for _, name := range m.OutputNames() {
		shape := m.Signature.Outputs[name].Shape
		route := "dropped"

		probe := &inference.Tensor{Name: name, Data: make([]float32, inference.ShapeSize(shape))}
		kind, ok, err := router.Classify(probe, 1)
		switch {
		case err != nil:
			route = err.Error()
		case ok:
			route = kind.String()
		}

		rows = append(rows, []string{name, "output", fmt.Sprint(shape), route})
	}
	return rows
}

func weightRows(m *local.Manifest, weights map[string]*inference.Tensor) ([][]string, uint64) {
	var rows [][]string
	var total uint64

	for _, group := range m.WeightsManifest {
		for _, spec := range group.Weights {
			width, err := local.DtypeWidth(spec.Dtype)
			if err != nil {
				continue
			}
			size := uint64(inference.ShapeSize(spec.Shape) * width)
			total += size

			shape := spec.Shape
			if t, ok := weights[spec.Name]; ok {
				shape = t.Shape
			}
			rows = append(rows, []string{spec.Name, fmt.Sprint(shape), spec.Dtype, humanize.Bytes(size)})
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return rows, total
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
}
