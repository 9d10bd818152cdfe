package commands

import (
	"strconv"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/CreditWorthy/realmforge/native"
	"github.com/CreditWorthy/realmforge/realmerr"
)

type codeRow struct {
	Code        string `json:"code" yaml:"code"`
	Native      int    `json:"native" yaml:"native"`
	Domain      string `json:"domain" yaml:"domain"`
	Description string `json:"description" yaml:"description"`
}

type codeList []codeRow

func (l codeList) Headers() []string { return []string{"Code", "Native", "Description"} }

func (l codeList) Rows() [][]string {
	rows := make([][]string, len(l))
	for i, r := range l {
		rows[i] = []string{r.Code, strconv.Itoa(r.Native), r.Description}
	}
	return rows
}

func codeTable() codeList {
	return lo.Map(realmerr.Codes(), func(c realmerr.ErrorCode, _ int) codeRow {
		return codeRow{
			Code:        c.String(),
			Native:      c.NativeCode(),
			Domain:      native.Domain,
			Description: c.Description(),
		}
	})
}

func newCodesCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "codes",
		Short: "List the realm error codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.printer.Print(codeTable())
		},
	}
}
