package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/onepai/onepai/pkg/archive"
	"github.com/onepai/onepai/pkg/journal"
	"github.com/onepai/onepai/pkg/registry"
	"github.com/spf13/cobra"
)

var (
	recordName    string
	recordPayload string
	recordMeta    []string
	recordNoIndex bool

	recordLimit int
	recordJSON  bool

	salvageForce bool
)

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordAppendCmd)
	recordCmd.AddCommand(recordReadCmd)
	recordCmd.AddCommand(recordScanCmd)
	recordCmd.AddCommand(recordSalvageCmd)

	recordAppendCmd.Flags().StringVarP(&recordName, "name", "n", "", "Record name, conventionally layer:detail")
	recordAppendCmd.Flags().StringVarP(&recordPayload, "payload", "p", "null", "Payload as JSON, or - to read from stdin")
	recordAppendCmd.Flags().StringArrayVar(&recordMeta, "meta", nil, "Metadata entry (key=value, can be repeated)")
	recordAppendCmd.Flags().BoolVar(&recordNoIndex, "no-index", false, "Skip the trace registry")
	_ = recordAppendCmd.MarkFlagRequired("name")

	recordReadCmd.Flags().IntVar(&recordLimit, "limit", 0, "Maximum records to read (0 = all)")
	recordReadCmd.Flags().BoolVar(&recordJSON, "json", false, "Emit one JSON object per record")

	recordSalvageCmd.Flags().BoolVarP(&salvageForce, "force", "f", false, "Skip confirmation prompt")
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Work with .onepai record archives",
}

var recordAppendCmd = &cobra.Command{
	Use:   "append <archive-file>",
	Short: "Append a record to a record archive",
	Long: `Append one checksummed record to a .onepai archive, creating the
archive when it does not exist. The append is also indexed in the trace
registry and journaled.

Examples:
  # A null-payload marker record
  onepai record append data/treasures/run.onepai -n "layer4:attn"

  # Structured payload
  onepai record append run.onepai -n "layer0:mlp" -p '{"weight": 0.82, "head": 3}'

  # Payload from a pipe, with metadata
  extract-weights | onepai record append run.onepai -n "layer7:attn" -p - --meta model=gpt2`,
	Args: cobra.ExactArgs(1),
	RunE: executeRecordAppend,
}

func executeRecordAppend(cmd *cobra.Command, args []string) error {
	path := args[0]

	payloadJSON := recordPayload
	if payloadJSON == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		payloadJSON = string(data)
	}
	payload, err := archive.ValueFromJSON([]byte(payloadJSON))
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	rec := archive.NewRecord(recordName, payload)
	for _, entry := range recordMeta {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("invalid meta format %q (expected key=value)", entry)
		}
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]string)
		}
		rec.Metadata[k] = v
	}

	a, err := archive.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	if err := a.Append(rec); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}

	// The record is durable at this point; indexing and journaling
	// failures must not look like a failed append.
	if !recordNoIndex {
		if err := indexTrace(rec, path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to index trace: %v\n", err)
		}
	}
	if j, err := openJournal(); err == nil {
		_ = j.LogSuccess(journal.OpRecordAppend, journal.SourceCLI, path)
	}

	fmt.Printf("Appended record %q to %s\n", rec.Name, path)
	return nil
}

// indexTrace registers the appended record in the trace registry.
func indexTrace(rec archive.Record, archivePath string) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(payload)

	r, err := openRegistry()
	if err != nil {
		return err
	}
	defer r.Close()

	return r.Add(&registry.Trace{
		Source:     rec.Name,
		RecordedAt: rec.Timestamp,
		Archive:    archivePath,
		Checksum:   hex.EncodeToString(sum[:]),
	})
}

var recordReadCmd = &cobra.Command{
	Use:   "read <archive-file>",
	Short: "Read records from a record archive",
	Long: `Read records from a .onepai archive in append order, verifying every
frame checksum on the way.

Examples:
  onepai record read data/treasures/run.onepai
  onepai record read run.onepai --limit 10
  onepai record read run.onepai --json | jq .payload`,
	Args: cobra.ExactArgs(1),
	RunE: executeRecordRead,
}

func executeRecordRead(cmd *cobra.Command, args []string) error {
	path := args[0]

	// Open would create a missing archive; reading must not.
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot read archive: %w", err)
	}

	a, err := archive.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	records, err := a.Records(recordLimit)
	if err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No records")
		return nil
	}

	for _, rec := range records {
		if recordJSON {
			line, err := json.Marshal(struct {
				Name      string            `json:"name"`
				Timestamp string            `json:"timestamp"`
				Payload   archive.Value     `json:"payload"`
				Metadata  map[string]string `json:"metadata,omitempty"`
			}{rec.Name, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Payload, rec.Metadata})
			if err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
			fmt.Println(string(line))
			continue
		}
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		fmt.Printf("%s %s %s\n", rec.Timestamp.Format(time.RFC3339), rec.Name, payload)
	}

	if !recordJSON {
		fmt.Printf("\nTotal: %d records\n", len(records))
	}
	return nil
}

var recordScanCmd = &cobra.Command{
	Use:   "scan <archive-file>",
	Short: "Check one record archive for corruption",
	Long: `Stream every frame of a .onepai archive through checksum
verification without decoding payloads. Fails on the first invalid
frame.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := archive.Scan(args[0])
		if err != nil {
			if n > 0 {
				fmt.Fprintf(os.Stderr, "%d valid records before the damage\n", n)
			}
			return fmt.Errorf("archive is damaged: %w", err)
		}
		fmt.Printf("Archive is intact: %d records\n", n)
		return nil
	},
}

var recordSalvageCmd = &cobra.Command{
	Use:   "salvage <archive-file>",
	Short: "Truncate a damaged record archive to its valid prefix",
	Long: `Rewrite a damaged .onepai archive keeping every record up to the
first invalid frame. Everything after the damage is lost, so the
command asks for confirmation first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		n, err := archive.Scan(path)
		if err == nil {
			fmt.Printf("Archive is intact: %d records, nothing to salvage\n", n)
			return nil
		}
		fmt.Fprintf(os.Stderr, "Archive is damaged after %d valid records: %v\n", n, err)

		if !salvageForce {
			fmt.Println("Salvaging discards everything after the damage.")
			if !confirm() {
				fmt.Println("Aborted")
				return nil
			}
		}

		kept, err := archive.Salvage(path)
		if err != nil {
			return fmt.Errorf("salvage failed: %w", err)
		}
		fmt.Printf("Salvaged %d records\n", kept)
		return nil
	},
}
