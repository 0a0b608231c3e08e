package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	httphandler "github.com/dmaloy/keydeck/internal/adapter/driving/http"
)

var (
	listSort string
	addName  string
	copyCard bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all keys with quota stats",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		resp, err := newAPIClient().snapshot(listSort)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tKEY\tEXPIRES\tREMAINING\tFLAGS")
		for _, k := range resp.Keys {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				k.ID, k.Name, k.MaskedKey, k.ExpiryDate,
				formatQuota(k.RemainingQuota), keyFlags(k))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Printf("\n%d keys, %s of %s remaining\n",
			resp.Stats.TotalKeys,
			formatQuota(resp.Stats.RemainingQuota),
			formatQuota(resp.Stats.TotalQuota))
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <api-key>",
	Short: "Validate and add a single key",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		var resp httphandler.KeyResponse
		err := newAPIClient().do(http.MethodPost, "/api/v1/keys",
			httphandler.AddKeyRequest{Name: addName, APIKey: args[0]}, &resp)
		if err != nil {
			return err
		}
		fmt.Printf("added %s (%s)\n", resp.Name, resp.MaskedKey)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import keys from free-form text (file or stdin)",
	Long: `Import scans the input for keys, one per line, with an optional name on the
same line. Lines without a key are skipped; keys already present are reported
and left untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return err
		}

		var resp httphandler.BatchAddResponse
		err = newAPIClient().do(http.MethodPost, "/api/v1/keys/batch",
			httphandler.BatchAddRequest{Text: string(data)}, &resp)
		if err != nil {
			return err
		}

		fmt.Printf("added %d\n", resp.Added)
		reportSuffixes("failed", resp.Failed)
		reportSuffixes("already present", resp.SkippedExisting)
		reportSuffixes("duplicate in input", resp.SkippedDuplicate)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [id]",
	Short: "Refresh quota for one key, or all keys",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		client := newAPIClient()

		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := client.do(http.MethodPost, fmt.Sprintf("/api/v1/keys/%d/refresh", id), nil, nil); err != nil {
				return err
			}
			fmt.Printf("refreshed key %d\n", id)
			return nil
		}

		var resp httphandler.RefreshAllResponse
		if err := client.do(http.MethodPost, "/api/v1/keys/refresh", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("refreshed %d\n", resp.Refreshed)
		reportSuffixes("failed", resp.Failed)
		return nil
	},
}

var switchCmd = &cobra.Command{
	Use:   "switch <id>",
	Short: "Make a key the active one and publish it to the shell environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := newAPIClient().do(http.MethodPost, fmt.Sprintf("/api/v1/keys/%d/activate", id), nil, nil); err != nil {
			return err
		}
		fmt.Printf("key %d is now active; restart your shell to pick it up\n", id)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := newAPIClient().do(http.MethodDelete, fmt.Sprintf("/api/v1/keys/%d", id), nil, nil); err != nil {
			return err
		}
		fmt.Printf("removed key %d\n", id)
		return nil
	},
}

var soldCmd = &cobra.Command{
	Use:   "sold <id>",
	Short: "Toggle a key's sold flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var resp httphandler.SoldResponse
		if err := newAPIClient().do(http.MethodPost, fmt.Sprintf("/api/v1/keys/%d/sold", id), nil, &resp); err != nil {
			return err
		}
		if resp.IsSold {
			fmt.Printf("key %d marked sold\n", id)
		} else {
			fmt.Printf("key %d no longer marked sold\n", id)
		}
		return nil
	},
}

var intervalCmd = &cobra.Command{
	Use:   "interval [duration]",
	Short: "Show or set the auto-rotation refresh interval (e.g. 30m, 2h)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		client := newAPIClient()

		if len(args) == 1 {
			var resp httphandler.RotationResponse
			if err := client.do(http.MethodPut, "/api/v1/rotation",
				httphandler.RotationRequest{Interval: args[0]}, &resp); err != nil {
				return err
			}
			fmt.Printf("rotation interval set to %s\n", resp.Interval)
			return nil
		}

		var resp httphandler.RotationResponse
		if err := client.do(http.MethodGet, "/api/v1/rotation", nil, &resp); err != nil {
			return err
		}
		fmt.Println(resp.Interval)
		return nil
	},
}

var cardCmd = &cobra.Command{
	Use:   "card <id>",
	Short: "Print a key's shareable card (full key included)",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		var resp httphandler.CardResponse
		if err := newAPIClient().do(http.MethodGet, fmt.Sprintf("/api/v1/keys/%d/card", id), nil, &resp); err != nil {
			return err
		}

		if copyCard {
			if err := clipboard.WriteAll(resp.Content); err != nil {
				return fmt.Errorf("copy to clipboard: %w", err)
			}
			fmt.Println("card copied to clipboard")
			return nil
		}

		fmt.Println(resp.Content)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listSort, "sort", "", "sort order: default, quota-desc, quota-asc, expiry")
	addCmd.Flags().StringVar(&addName, "name", "", "display name for the key")
	cardCmd.Flags().BoolVar(&copyCard, "copy", false, "copy the card to the clipboard instead of printing it")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid key id %q", s)
	}
	return id, nil
}

// keyFlags renders status markers for the list view.
func keyFlags(k httphandler.KeyResponse) string {
	var flags []string
	if k.IsActive {
		flags = append(flags, "active")
	}
	if k.IsSold {
		flags = append(flags, "sold")
	}
	if k.Refreshing {
		flags = append(flags, "refreshing")
	}
	return strings.Join(flags, ",")
}

// formatQuota renders token counts compactly (12.5M, 800K).
func formatQuota(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return strconv.FormatInt(n, 10)
	}
}

func reportSuffixes(label string, suffixes []string) {
	if len(suffixes) == 0 {
		return
	}
	fmt.Printf("%s %d: ...%s\n", label, len(suffixes), strings.Join(suffixes, ", ..."))
}
