package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	energyapp "community-energy/internal/energy/application"
)

// BuildLedgerPDF renders the ledger summary, member table and balances.
func BuildLedgerPDF(view energyapp.LedgerView, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Community Energy Ledger")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Community: %s", view.CommunityID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %d", view.Period))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total share (bps): %d", view.TotalShare))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Import price: %d", view.ImportPrice))
	pdf.Ln(5)
	if view.Battery.Configured {
		pdf.Cell(0, 6, fmt.Sprintf("Battery: level %d of %d at price %d", view.Battery.Level, view.Battery.Capacity, view.Battery.Price))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Zero sum: %t (net %s)", view.ZeroSum, view.Net.String()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Member", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Share (bps)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Allocated", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Remaining", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	remaining := remainingByMember(view)
	for _, member := range view.Members {
		pdf.CellFormat(50, 6, string(member.ID), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", member.Share), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%d", view.Allocated[member.ID]), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, fmt.Sprintf("%d", remaining[string(member.ID)]), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Account", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Balance", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, balance := range view.Balances {
		pdf.CellFormat(60, 6, balance.Account.String(), "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%d", balance.Balance), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildLedgerXLSX renders the ledger as a workbook with summary, members,
// lots and balances sheets.
func BuildLedgerXLSX(view energyapp.LedgerView, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	membersSheet := "members"
	lotsSheet := "lots"
	balancesSheet := "balances"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	for _, sheet := range []string{membersSheet, lotsSheet, balancesSheet} {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}

	_ = f.SetCellValue(summarySheet, "A1", "Community Energy Ledger")
	_ = f.SetCellValue(summarySheet, "A3", "Community")
	_ = f.SetCellValue(summarySheet, "B3", view.CommunityID)
	_ = f.SetCellValue(summarySheet, "A4", "Period")
	_ = f.SetCellValue(summarySheet, "B4", view.Period)
	_ = f.SetCellValue(summarySheet, "A5", "Total Share (bps)")
	_ = f.SetCellValue(summarySheet, "B5", view.TotalShare)
	_ = f.SetCellValue(summarySheet, "A6", "Import Price")
	_ = f.SetCellValue(summarySheet, "B6", view.ImportPrice)
	_ = f.SetCellValue(summarySheet, "A7", "Battery Level")
	_ = f.SetCellValue(summarySheet, "B7", view.Battery.Level)
	_ = f.SetCellValue(summarySheet, "A8", "Battery Capacity")
	_ = f.SetCellValue(summarySheet, "B8", view.Battery.Capacity)
	_ = f.SetCellValue(summarySheet, "A9", "Export Device")
	_ = f.SetCellValue(summarySheet, "B9", string(view.ExportDevice))
	_ = f.SetCellValue(summarySheet, "A10", "Community Device")
	_ = f.SetCellValue(summarySheet, "B10", string(view.CommunityDevice))
	_ = f.SetCellValue(summarySheet, "A11", "Zero Sum")
	_ = f.SetCellValue(summarySheet, "B11", view.ZeroSum)
	_ = f.SetCellValue(summarySheet, "A12", "Generated")
	_ = f.SetCellValue(summarySheet, "B12", generatedAt.Format(time.RFC3339))

	_ = f.SetCellValue(membersSheet, "A1", "Member")
	_ = f.SetCellValue(membersSheet, "B1", "Devices")
	_ = f.SetCellValue(membersSheet, "C1", "Share (bps)")
	_ = f.SetCellValue(membersSheet, "D1", "Allocated")
	_ = f.SetCellValue(membersSheet, "E1", "Remaining")
	remaining := remainingByMember(view)
	for i, member := range view.Members {
		row := i + 2
		devices := ""
		for j, device := range member.Devices {
			if j > 0 {
				devices += ","
			}
			devices += string(device)
		}
		_ = f.SetCellValue(membersSheet, fmt.Sprintf("A%d", row), string(member.ID))
		_ = f.SetCellValue(membersSheet, fmt.Sprintf("B%d", row), devices)
		_ = f.SetCellValue(membersSheet, fmt.Sprintf("C%d", row), member.Share)
		_ = f.SetCellValue(membersSheet, fmt.Sprintf("D%d", row), view.Allocated[member.ID])
		_ = f.SetCellValue(membersSheet, fmt.Sprintf("E%d", row), remaining[string(member.ID)])
	}

	_ = f.SetCellValue(lotsSheet, "A1", "Owner")
	_ = f.SetCellValue(lotsSheet, "B1", "Price")
	_ = f.SetCellValue(lotsSheet, "C1", "Quantity")
	for i, lot := range view.Lots {
		row := i + 2
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("A%d", row), string(lot.Owner))
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("B%d", row), lot.Price)
		_ = f.SetCellValue(lotsSheet, fmt.Sprintf("C%d", row), lot.Quantity)
	}

	_ = f.SetCellValue(balancesSheet, "A1", "Account")
	_ = f.SetCellValue(balancesSheet, "B1", "Balance")
	for i, balance := range view.Balances {
		row := i + 2
		_ = f.SetCellValue(balancesSheet, fmt.Sprintf("A%d", row), balance.Account.String())
		_ = f.SetCellValue(balancesSheet, fmt.Sprintf("B%d", row), balance.Balance)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func remainingByMember(view energyapp.LedgerView) map[string]int64 {
	out := make(map[string]int64)
	for _, lot := range view.Lots {
		out[string(lot.Owner)] += lot.Quantity
	}
	return out
}
