package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"shipwatch/internal/model"
)

func main() {
	var (
		count      int
		outputFile string
		folio      bool
		seed       int64
		days       int
	)
	flag.IntVar(&count, "count", 100, "number of rows to generate")
	flag.StringVar(&outputFile, "output", "snapshot.csv", "output file")
	flag.BoolVar(&folio, "folio", false, "include the Folio pedido column (v2 key schema)")
	flag.Int64Var(&seed, "seed", 0, "random seed (0 = time based)")
	flag.IntVar(&days, "days", 14, "spread dates over the last N days")
	flag.Parse()

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if err := generateSnapshot(count, outputFile, folio, rand.New(rand.NewSource(seed)), days); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
}

func generateSnapshot(count int, outputFile string, folio bool, rng *rand.Rand, days int) error {
	file, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	destinations := []string{"1021-NORTE", "1021-SUR", "2040-CENTRO", "3310-PUERTO", "4502"}
	products := []string{"MAGNA", "PREMIUM", "DIESEL"}
	statuses := []string{model.StatusProgramado, model.StatusCargando, model.StatusFacturado, model.StatusCancelado}
	shifts := []string{"1", "2", "3"}
	if days < 1 {
		days = 1
	}

	header := []string{"Destino", "Producto", "Estado de atención", "Fecha", "Turno", "Capacidad"}
	if folio {
		header = append(header, "Folio pedido")
	}
	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	today := time.Now().UTC()
	for i := 0; i < count; i++ {
		date := today.AddDate(0, 0, -rng.Intn(days))
		row := []string{
			destinations[rng.Intn(len(destinations))],
			products[rng.Intn(len(products))],
			statuses[rng.Intn(len(statuses))],
			date.Format("2006-01-02"),
			shifts[rng.Intn(len(shifts))],
			fmt.Sprintf("%d", 10000+1000*rng.Intn(21)),
		}
		if folio {
			row = append(row, fmt.Sprintf("F%06d", i+1))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	log.Printf("generated %d rows to %s", count, outputFile)
	return nil
}
