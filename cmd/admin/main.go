package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
)

const (
	defaultAPI = "http://localhost:8080"
)

type matrixResponse struct {
	Platforms []string `json:"platforms"`
	Grids     []struct {
		Kind      string `json:"kind"`
		Reference struct {
			Branch string `json:"branch"`
			Tag    string `json:"tag"`
		} `json:"reference"`
		Rows []struct {
			SwiftVersion string `json:"swiftVersion"`
			Cells        []struct {
				Platform string `json:"platform"`
				Status   string `json:"status"`
			} `json:"cells"`
		} `json:"rows"`
	} `json:"grids"`
}

type badgeResponse struct {
	Label   string `json:"label"`
	Message string `json:"message"`
	Color   string `json:"color"`
	IsError bool   `json:"isError"`
}

func main() {
	api := flag.String("api", envDefault("SPI_API", defaultAPI), "Base URL of the package index API")
	pkg := flag.String("package", "", "Package as owner/name (required)")
	badgeType := flag.String("badge", "", "Print the swift-versions or platforms badge instead of the matrix")
	dumpJSON := flag.Bool("json", false, "Output JSON instead of table")
	flag.Parse()

	owner, name, ok := strings.Cut(*pkg, "/")
	if !ok || owner == "" || name == "" {
		fmt.Fprintln(os.Stderr, "--package owner/name is required")
		os.Exit(1)
	}

	base := fmt.Sprintf("%s/api/packages/%s/%s", strings.TrimRight(*api, "/"), url.PathEscape(owner), url.PathEscape(name))
	if *badgeType != "" {
		var b badgeResponse
		fetch(base+"/badge?"+url.Values{"type": {*badgeType}}.Encode(), &b)
		if *dumpJSON {
			printJSON(b)
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Label\tMessage\tColor\tError\n")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", b.Label, b.Message, b.Color, b.IsError)
		_ = tw.Flush()
		return
	}

	var matrix matrixResponse
	fetch(base+"/builds", &matrix)
	if *dumpJSON {
		printJSON(matrix)
		return
	}

	if len(matrix.Grids) == 0 {
		fmt.Println("no significant versions")
		return
	}
	for i, grid := range matrix.Grids {
		if i > 0 {
			fmt.Println()
		}
		ref := grid.Reference.Tag
		if ref == "" {
			ref = grid.Reference.Branch
		}
		fmt.Printf("%s (%s)\n", ref, grid.Kind)

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Swift\t%s\n", strings.Join(matrix.Platforms, "\t"))
		for _, row := range grid.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, c := range row.Cells {
				cells = append(cells, symbol(c.Status))
			}
			fmt.Fprintf(tw, "%s\t%s\n", row.SwiftVersion, strings.Join(cells, "\t"))
		}
		_ = tw.Flush()
	}
}

func symbol(status string) string {
	switch status {
	case "compatible":
		return "yes"
	case "incompatible":
		return "no"
	default:
		return "?"
	}
}

func fetch(endpoint string, dst any) {
	resp, err := http.Get(endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		fmt.Fprintf(os.Stderr, "query failed: %s %s\n", resp.Status, body.Error)
		os.Exit(1)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
