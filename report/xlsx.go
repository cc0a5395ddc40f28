package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/warp/tutor-ledger/ledger"
)

const studentsSheet = "Students"

var studentsHeader = []string{"ID", "Name", "Balance", "Completed lessons", "Value", "Created"}

// StudentsWorkbook renders students and their balances as an .xlsx file.
// Rows with a negative balance are highlighted.
func StudentsWorkbook(students []ledger.Student, p Pricing) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", studentsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	debtStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "#C00000"},
	})
	if err != nil {
		return nil, fmt.Errorf("debt style: %w", err)
	}

	for i, h := range studentsHeader {
		if err := f.SetCellValue(studentsSheet, cell(i+1, 1), h); err != nil {
			return nil, err
		}
	}
	last, _ := excelize.ColumnNumberToName(len(studentsHeader))
	if err := f.SetCellStyle(studentsSheet, "A1", last+"1", headerStyle); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(studentsSheet, "B", "B", 28)
	_ = f.SetColWidth(studentsSheet, "D", "F", 18)

	for i, st := range students {
		row := i + 2
		value, _ := p.BalanceValue(st.Balance).Float64()
		values := []any{
			int64(st.ID),
			st.Name,
			st.Balance,
			st.CompletedLessons,
			value,
			st.CreatedAt.Format("2006-01-02"),
		}
		for col, v := range values {
			if err := f.SetCellValue(studentsSheet, cell(col+1, row), v); err != nil {
				return nil, err
			}
		}
		if st.Balance < 0 {
			if err := f.SetCellStyle(studentsSheet, cell(1, row), cell(len(values), row), debtStyle); err != nil {
				return nil, err
			}
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
