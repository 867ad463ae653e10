package server

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"imgbatch/internal/models"
)

var csvColumns = []string{"S. No.", "Product Name", "Input Image Urls", "Output Image Urls"}

// parseProductsCSV reads the submitted batch file. The first three columns of
// csvColumns are required; rows become PENDING products with their URL list
// kept in the delimited form it arrived in.
func parseProductsCSV(r io.Reader) ([]models.Product, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("invalid CSV format: %v", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range csvColumns[:3] {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("CSV missing required column %q", required)
		}
	}

	var products []models.Product
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid CSV format: %v", err)
		}

		serial, err := strconv.Atoi(strings.TrimSpace(field(record, col["S. No."])))
		if err != nil {
			return nil, fmt.Errorf("invalid serial number %q", field(record, col["S. No."]))
		}
		products = append(products, models.Product{
			SerialNumber:   serial,
			Name:           field(record, col["Product Name"]),
			InputImageURLs: field(record, col["Input Image Urls"]),
			Status:         models.ProductPending,
		})
	}
	// A header-only file is a valid, empty batch; it completes immediately
	// once the worker picks it up.
	return products, nil
}

// exportProductsCSV writes the four-column result file. Output Image Urls is
// an empty string, never null, when no outputs were produced.
func exportProductsCSV(products []models.Product) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvColumns); err != nil {
		return nil, err
	}
	for i := range products {
		p := &products[i]
		record := []string{
			strconv.Itoa(p.SerialNumber),
			p.Name,
			p.InputImageURLs,
			p.OutputImageURLs,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}
