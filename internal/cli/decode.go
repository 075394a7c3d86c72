package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zeusync/crdtsync/internal/core/crdt/codec"
)

// DecodedMessage is the JSON form of one wire message.
type DecodedMessage struct {
	Type      string `json:"type"`
	Entity    uint32 `json:"entity"`
	Component uint32 `json:"component,omitempty"`
	Timestamp uint32 `json:"timestamp,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

// DecodeResult is the JSON output of the decode command.
type DecodeResult struct {
	Messages  []DecodedMessage `json:"messages"`
	Consumed  int              `json:"consumed"`
	Trailing  int              `json:"trailing"`
	Skipped   uint64           `json:"skipped"`
	Corrupted bool             `json:"corrupted"`
}

func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "decode <file>",
		Short:        "Print the messages of a binary batch",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read batch: %w", err)
			}
			return runDecode(rootOpts, data, cmd.OutOrStdout())
		},
	}
}

func runDecode(opts *RootOptions, data []byte, w io.Writer) error {
	dec := codec.NewDecoder(nil)
	msgs, consumed := dec.Decode(data)

	result := DecodeResult{
		Messages:  make([]DecodedMessage, 0, len(msgs)),
		Consumed:  consumed,
		Trailing:  len(data) - consumed,
		Skipped:   dec.Skipped(),
		Corrupted: dec.Corrupted() > 0,
	}
	for _, m := range msgs {
		result.Messages = append(result.Messages, DecodedMessage{
			Type:      m.Type.String(),
			Entity:    uint32(m.Entity),
			Component: uint32(m.Component),
			Timestamp: m.Timestamp,
			Data:      m.Data,
		})
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	for _, m := range msgs {
		if m.Type.HasPayload() {
			fmt.Fprintf(w, "%s %x\n", m, m.Data)
		} else {
			fmt.Fprintln(w, m)
		}
	}
	fmt.Fprintf(w, "%d message(s), %d of %d bytes consumed", len(msgs), consumed, len(data))
	if result.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", result.Skipped)
	}
	if result.Corrupted {
		fmt.Fprint(w, ", corrupted frame")
	}
	fmt.Fprintln(w)
	return nil
}
