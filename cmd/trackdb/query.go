package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seqindex/trackdb/internal/config"
	"github.com/seqindex/trackdb/internal/query"
	"github.com/seqindex/trackdb/internal/track"
)

func newQueryCmd() *cobra.Command {
	var (
		configPath string
		outDir     string
		region     string
		tracks     string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Resolve a genomic position or range against built tracks",
		Example: `  trackdb query --config hg19.yaml --out ./db --region chr1:12345 --tracks refSeq,phyloP
  trackdb query --config hg19.yaml --out ./db --region chr17:7571720-7590868 --tracks refSeq`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(configPath, outDir, region, tracks)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Track manifest YAML (required)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Store directory (default: 'out' config key)")
	cmd.Flags().StringVarP(&region, "region", "r", "", "Region chrom:pos or chrom:start-end (required)")
	cmd.Flags().StringVar(&tracks, "tracks", "", "Comma-separated track names (default: all)")
	cmd.MarkFlagRequired("config")
	cmd.MarkFlagRequired("region")

	return cmd
}

func runQuery(configPath, outDir, region, tracks string) error {
	if outDir == "" {
		outDir = viper.GetString("out")
	}
	if outDir == "" {
		return fmt.Errorf("--out is required (or set 'out' in ~/.trackdb.yaml)")
	}

	m, err := config.Load(configPath)
	if err != nil {
		return err
	}

	chrom, start, end, err := parseRegion(region)
	if err != nil {
		return err
	}

	var names []string
	if tracks == "" {
		for _, t := range m.Tracks {
			names = append(names, t.Name)
		}
	} else {
		for _, name := range strings.Split(tracks, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}

	r, err := query.NewResolver(outDir, m)
	if err != nil {
		return err
	}
	defer r.Close()

	out, err := r.ResolveRange(chrom, start, end, names)
	if err != nil {
		return err
	}

	return writeJSON(os.Stdout, region, out)
}

// parseRegion parses chrom:pos or chrom:start-end.
func parseRegion(s string) (string, int64, int64, error) {
	chrom, span, ok := strings.Cut(s, ":")
	if !ok || chrom == "" || span == "" {
		return "", 0, 0, fmt.Errorf("region %q must be chrom:pos or chrom:start-end", s)
	}

	rawStart, rawEnd, ranged := strings.Cut(span, "-")
	start, err := strconv.ParseInt(rawStart, 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("region %q has a non-numeric position", s)
	}
	end := start
	if ranged {
		end, err = strconv.ParseInt(rawEnd, 10, 64)
		if err != nil {
			return "", 0, 0, fmt.Errorf("region %q has a non-numeric end", s)
		}
	}
	return chrom, start, end, nil
}

// queryOutput is the JSON shape of one resolved region.
type queryOutput struct {
	Region string                     `json:"region"`
	Tracks map[string][]*recordOutput `json:"tracks"`
}

type recordOutput struct {
	Ref    string              `json:"ref,omitempty"`
	Chrom  string              `json:"chrom,omitempty"`
	Start  int64               `json:"start,omitempty"`
	End    int64               `json:"end,omitempty"`
	Fields map[string][]string `json:"fields"`
}

func writeJSON(w *os.File, region string, resolved map[string][]*track.Record) error {
	out := queryOutput{Region: region, Tracks: make(map[string][]*recordOutput, len(resolved))}
	for name, records := range resolved {
		list := make([]*recordOutput, 0, len(records))
		for _, rec := range records {
			ro := &recordOutput{
				Ref:    rec.JoinKey,
				Chrom:  rec.Chrom,
				Start:  rec.Start,
				End:    rec.End,
				Fields: make(map[string][]string, len(rec.Fields)),
			}
			for _, f := range rec.Fields {
				ro.Fields[f.Name] = f.Values
			}
			list = append(list, ro)
		}
		out.Tracks[name] = list
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
