package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/CreditWorthy/realmforge"
	"github.com/CreditWorthy/realmforge/internal/cli/output"
	"github.com/CreditWorthy/realmforge/realmerr"
)

type infoView struct {
	Path          string `json:"path" yaml:"path"`
	FormatVersion uint32 `json:"format_version" yaml:"format_version"`
	SchemaVersion uint32 `json:"schema_version" yaml:"schema_version"`
	SchemaHash    string `json:"schema_hash" yaml:"schema_hash"`
	RecordSize    uint32 `json:"record_size" yaml:"record_size"`
	Records       int    `json:"records" yaml:"records"`
	Capacity      int    `json:"capacity" yaml:"capacity"`
	ReadOnly      bool   `json:"read_only" yaml:"read_only"`
}

func newInfoView(i realmforge.Info) infoView {
	return infoView{
		Path:          i.Path,
		FormatVersion: i.FormatVersion,
		SchemaVersion: i.SchemaVersion,
		SchemaHash:    hex.EncodeToString(i.SchemaHash[:]),
		RecordSize:    i.RecordSize,
		Records:       i.Records,
		Capacity:      i.Capacity,
		ReadOnly:      i.ReadOnly,
	}
}

func (v infoView) pairs() [][2]string {
	return [][2]string{
		{"Path", v.Path},
		{"Format version", strconv.FormatUint(uint64(v.FormatVersion), 10)},
		{"Schema version", strconv.FormatUint(uint64(v.SchemaVersion), 10)},
		{"Schema hash", v.SchemaHash},
		{"Record size", strconv.FormatUint(uint64(v.RecordSize), 10)},
		{"Records", strconv.Itoa(v.Records)},
		{"Capacity", strconv.Itoa(v.Capacity)},
		{"Read only", strconv.FormatBool(v.ReadOnly)},
	}
}

type errorView struct {
	Code    string `json:"code" yaml:"code"`
	Native  int    `json:"native" yaml:"native"`
	Domain  string `json:"domain" yaml:"domain"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Message string `json:"message" yaml:"message"`
}

func newErrorView(e realmerr.Error) errorView {
	return errorView{
		Code:    e.Code().String(),
		Native:  e.NativeCode(),
		Domain:  e.Domain(),
		Path:    e.Path(),
		Message: e.Message(),
	}
}

func (v errorView) pairs() [][2]string {
	return [][2]string{
		{"Code", v.Code},
		{"Native", strconv.Itoa(v.Native)},
		{"Domain", v.Domain},
		{"Path", v.Path},
		{"Message", v.Message},
	}
}

// report prints the realm error in err, if there is one, and returns err.
func (s *settings) report(err error) error {
	e, ok := realmerr.BridgeError(err)
	if !ok {
		return err
	}
	v := newErrorView(e)
	var perr error
	if s.printer.Format() == output.FormatTable {
		perr = s.printer.Print(v.pairs())
	} else {
		perr = s.printer.Print(v)
	}
	if perr != nil {
		return errors.Join(err, fmt.Errorf("print error: %w", perr))
	}
	return err
}

// finish closes c and joins its error with err. Close flushes the header,
// so its failure must not turn into a reported success.
func finish(c io.Closer, err error) error {
	if cerr := c.Close(); cerr != nil {
		return errors.Join(err, fmt.Errorf("close: %w", cerr))
	}
	return err
}

func (s *settings) printInfo(r *realmforge.Realm) error {
	info, err := r.Info()
	if err != nil {
		return err
	}
	v := newInfoView(info)
	if s.printer.Format() == output.FormatTable {
		return s.printer.Print(v.pairs())
	}
	return s.printer.Print(v)
}

func newCreateCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Create a realm, or open it if it exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := s.config(args[0])
			if err != nil {
				return err
			}
			r, err := realmforge.Open(cfg)
			if err != nil {
				return s.report(err)
			}
			defer func() { err = finish(r, err) }()

			for n, i := s.v.GetInt("records"), 0; i < n; i++ {
				if _, err := r.Append(); err != nil {
					return s.report(err)
				}
			}
			return s.printInfo(r)
		},
	}
	realmFlags(cmd)
	cmd.Flags().Int("records", 0, "number of zeroed records to append")
	return cmd
}

func newInspectCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Open a realm and print its header",
		Long: `Open a realm and print its header.

If the realm cannot be opened the realm error is printed instead and the
command exits with status 2.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := s.config(args[0])
			if err != nil {
				return err
			}
			r, err := realmforge.Open(cfg)
			if err != nil {
				return s.report(err)
			}
			defer func() { err = finish(r, err) }()
			return s.printInfo(r)
		},
	}
	realmFlags(cmd)
	cmd.Flags().Bool("read-only", true, "map the file read-only")
	cmd.Flags().Bool("no-upgrade", false, "refuse files in an older format")
	return cmd
}

func newCopyCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy <src> <dst>",
		Short: "Write a copy of a realm to a new file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := s.config(args[0])
			if err != nil {
				return err
			}
			cfg.ReadOnly = true
			r, err := realmforge.Open(cfg)
			if err != nil {
				return s.report(err)
			}
			defer func() { err = finish(r, err) }()

			if err := r.WriteCopy(args[1]); err != nil {
				return s.report(err)
			}
			s.printer.Printf("copied %s to %s\n", args[0], args[1])
			return nil
		},
	}
	realmFlags(cmd)
	return cmd
}
