package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/okian/airdrop/internal/domain/model"
)

// ExportHeader is the reconciliation column layout.
var ExportHeader = []string{"Recipient Address", "Recipient Weight", "Distribution Amount", "Transaction Hash"}

// WriteReconciliation writes one row per allocation record in source order,
// joined against the checkpoint results. Records without a result show amount
// 0 and a blank hash. Unparsed lines are placed after the number of records
// they followed in the source, with their raw address column, weight and
// amount 0 and a blank hash. Results for
// addresses absent from records are appended with a blank weight.
func WriteReconciliation(w io.Writer, records []model.AllocationRecord, unparsed []model.UnparsedLine, results []model.DistributionResult) error {
	byAddr := make(map[common.Address]model.DistributionResult, len(results))
	for _, res := range results {
		byAddr[res.Address] = res
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	next := 0
	flushUnparsed := func(written int) error {
		for ; next < len(unparsed) && (written < 0 || unparsed[next].After <= written); next++ {
			if err := cw.Write([]string{unparsed[next].Address, "0", "0", ""}); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
		return nil
	}

	seen := make(map[common.Address]struct{}, len(records))
	for i, rec := range records {
		if err := flushUnparsed(i); err != nil {
			return err
		}
		seen[rec.Address] = struct{}{}
		row := []string{rec.Address.Hex(), model.FormatUnits(rec.Weight), "0", ""}
		if res, ok := byAddr[rec.Address]; ok {
			row[2] = model.FormatUnits(res.Amount)
			row[3] = res.TransactionHash.Hex()
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	if err := flushUnparsed(-1); err != nil {
		return err
	}

	for _, res := range results {
		if _, ok := seen[res.Address]; ok {
			continue
		}
		row := []string{res.Address.Hex(), "", model.FormatUnits(res.Amount), res.TransactionHash.Hex()}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportFile writes the reconciliation to path through a temp file and rename,
// so readers never see a partial export.
func ExportFile(path string, records []model.AllocationRecord, unparsed []model.UnparsedLine, results []model.DistributionResult) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := WriteReconciliation(tmp, records, unparsed, results); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}
