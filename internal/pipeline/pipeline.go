// Package pipeline runs the batch end to end: registry, per-domain
// extraction with cache round-trips, derived features, and matrix assembly.
// Stages run strictly downstream; no stage reads back from a later one.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/JasonZhang2981/PBXAI/internal/domain/demographics"
	"github.com/JasonZhang2981/PBXAI/internal/domain/derived"
	"github.com/JasonZhang2981/PBXAI/internal/domain/diagnosis"
	"github.com/JasonZhang2981/PBXAI/internal/domain/labs"
	"github.com/JasonZhang2981/PBXAI/internal/domain/mapping"
	"github.com/JasonZhang2981/PBXAI/internal/domain/matrix"
	"github.com/JasonZhang2981/PBXAI/internal/domain/meds"
	"github.com/JasonZhang2981/PBXAI/internal/domain/procedures"
	"github.com/JasonZhang2981/PBXAI/internal/domain/registry"
	"github.com/JasonZhang2981/PBXAI/internal/domain/vitals"
	"github.com/JasonZhang2981/PBXAI/internal/platform/audit"
	"github.com/JasonZhang2981/PBXAI/internal/platform/cache"
	"github.com/JasonZhang2981/PBXAI/internal/platform/source"
)

// Raw source table file names under DataRoot.
const (
	FileAdmissions    = "ADMISSIONS.csv"
	FilePatients      = "PATIENTS.csv"
	FileChartEvents   = "CHARTEVENTS.csv"
	FileLabEvents     = "LABEVENTS.csv"
	FileLabDictionary = "D_LABITEMS.csv"
	FilePrescriptions = "PRESCRIPTIONS.csv"
	FileProcedures    = "PROCEDURES_ICD.csv"
	FileDiagnoses     = "DIAGNOSES_ICD.csv"
)

// Mapping file names under MappingRoot.
const (
	FileDiagnosisMap = "DIAGNOSIS.csv"
	FileMedicineMap  = "MEDICINE_NAME_MAP.csv"
	FileOperationMap = "OPERATION_MAP.csv"
)

type Options struct {
	DataRoot       string
	MappingRoot    string
	OutputPath     string
	MinVisit       int
	LabMinCount    int
	MedWindowHours float64
	ReadFromCache  bool
}

// Result carries the assembled table and the run's audit summary.
type Result struct {
	Table   *matrix.Table
	Summary audit.Summary
}

// Run executes the whole batch. Any returned error is fatal: the output file
// for the failing stage is never written.
func Run(ctx context.Context, opts Options, store cache.Store, logger zerolog.Logger) (*Result, error) {
	rec := audit.NewRecorder()
	logger = logger.With().Str("run_id", rec.RunID()).Logger()

	reg, err := loadRegistry(ctx, opts, store, logger, rec)
	if err != nil {
		return nil, err
	}

	demo, err := loadDemographics(ctx, opts, store, reg, logger, rec)
	if err != nil {
		return nil, err
	}

	medicine, err := loadMedicine(ctx, opts, store, reg, logger, rec)
	if err != nil {
		return nil, err
	}

	operation, err := loadProcedures(ctx, opts, store, reg, logger, rec)
	if err != nil {
		return nil, err
	}

	labTest, err := loadLabs(ctx, opts, store, reg, logger, rec)
	if err != nil {
		return nil, err
	}

	disease, err := loadDiagnosis(ctx, opts, store, reg, logger, rec)
	if err != nil {
		return nil, err
	}

	vital, err := loadVitals(ctx, opts, store, reg, logger, rec)
	if err != nil {
		return nil, err
	}

	risk := derived.RiskFactors(reg, demo, vital, operation, derived.DefaultCardiacProcedures)
	category := derived.FuseDiseaseCategories(reg, disease, derived.DefaultDiseaseCategories)

	table, err := matrix.Assemble(reg, []matrix.Domain{
		category, risk, operation, demo, vital, medicine, disease, labTest,
	}, opts.MinVisit)
	if err != nil {
		return nil, fmt.Errorf("assemble matrix: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := table.WriteCSV(opts.OutputPath); err != nil {
		return nil, fmt.Errorf("write matrix: %w", err)
	}
	logger.Info().
		Int("rows", len(table.Rows)).
		Int("columns", len(table.Header)).
		Str("path", opts.OutputPath).
		Msg("matrix written")

	rec.Log(logger)
	return &Result{Table: table, Summary: rec.Summary()}, nil
}

// useCache reports whether a domain should be loaded from the cache store.
func useCache(ctx context.Context, opts Options, store cache.Store, domain string) (bool, error) {
	if !opts.ReadFromCache {
		return false, nil
	}
	ok, err := store.Exists(ctx, domain)
	if err != nil {
		return false, fmt.Errorf("check cache %s: %w", domain, err)
	}
	return ok, nil
}

func loadRegistry(ctx context.Context, opts Options, store cache.Store, logger zerolog.Logger, rec *audit.Recorder) (*registry.Registry, error) {
	start := time.Now()
	cached, err := useCache(ctx, opts, store, registry.CacheDomain)
	if err != nil {
		return nil, err
	}

	var reg *registry.Registry
	if cached {
		rows, err := store.Read(ctx, registry.CacheDomain)
		if err != nil {
			return nil, err
		}
		reg, err = registry.FromCache(rows)
		if err != nil {
			return nil, err
		}
		rec.StageDone(registry.CacheDomain, int64(len(rows)), time.Since(start))
	} else {
		rows, err := source.ReadTable(filepath.Join(opts.DataRoot, FileAdmissions))
		if err != nil {
			return nil, err
		}
		var stats registry.LoadStats
		reg, stats, err = registry.Load(rows)
		if err != nil {
			return nil, err
		}
		for i := int64(0); i < stats.Duplicates; i++ {
			rec.Skip(registry.CacheDomain, audit.ReasonDuplicateKey)
		}
		if err := store.Write(ctx, registry.CacheDomain, registry.CacheHeader(), reg.CacheRows()); err != nil {
			return nil, err
		}
		rec.StageDone(registry.CacheDomain, stats.Rows, time.Since(start))
	}
	logger.Info().Int("visits", reg.Len()).Bool("from_cache", cached).Msg("visit registry loaded")
	return reg, nil
}

func loadDemographics(ctx context.Context, opts Options, store cache.Store, reg *registry.Registry, logger zerolog.Logger, rec *audit.Recorder) (*demographics.Features, error) {
	start := time.Now()
	cached, err := useCache(ctx, opts, store, demographics.CacheDomain)
	if err != nil {
		return nil, err
	}

	var f *demographics.Features
	var rows int64
	if cached {
		cacheRows, err := store.Read(ctx, demographics.CacheDomain)
		if err != nil {
			return nil, err
		}
		f, err = demographics.FromCache(cacheRows)
		if err != nil {
			return nil, err
		}
		rows = int64(len(cacheRows))
	} else {
		raw, err := source.ReadTable(filepath.Join(opts.DataRoot, FilePatients))
		if err != nil {
			return nil, err
		}
		f, err = demographics.Extract(reg, raw, rec)
		if err != nil {
			return nil, err
		}
		if err := store.Write(ctx, demographics.CacheDomain, demographics.CacheHeader(), f.CacheRows(reg)); err != nil {
			return nil, err
		}
		rows = int64(len(raw))
	}
	rec.StageDone(demographics.CacheDomain, rows, time.Since(start))
	logger.Info().Bool("from_cache", cached).Msg("demographics loaded")
	return f, nil
}

func loadMedicine(ctx context.Context, opts Options, store cache.Store, reg *registry.Registry, logger zerolog.Logger, rec *audit.Recorder) (*meds.Features, error) {
	start := time.Now()
	cached, err := useCache(ctx, opts, store, meds.CacheDomain)
	if err != nil {
		return nil, err
	}

	var f *meds.Features
	var rows int64
	if cached {
		cacheRows, err := store.Read(ctx, meds.CacheDomain)
		if err != nil {
			return nil, err
		}
		f, err = meds.FromCache(cacheRows)
		if err != nil {
			return nil, err
		}
		rows = int64(len(cacheRows))
	} else {
		mapRows, err := source.ReadAll(filepath.Join(opts.MappingRoot, FileMedicineMap))
		if err != nil {
			return nil, err
		}
		km, err := mapping.LoadMedicationMap(mapRows)
		if err != nil {
			return nil, err
		}
		scan := countScanner(source.FileScanner(filepath.Join(opts.DataRoot, FilePrescriptions), true), &rows)
		f, err = meds.Extract(reg, scan, km, opts.MedWindowHours, rec)
		if err != nil {
			return nil, err
		}
		if err := store.Write(ctx, meds.CacheDomain, meds.CacheHeader(), f.CacheRows(reg)); err != nil {
			return nil, err
		}
	}
	rec.StageDone(meds.CacheDomain, rows, time.Since(start))
	logger.Info().Bool("from_cache", cached).Msg("medications loaded")
	return f, nil
}

func loadProcedures(ctx context.Context, opts Options, store cache.Store, reg *registry.Registry, logger zerolog.Logger, rec *audit.Recorder) (*procedures.Features, error) {
	start := time.Now()
	cached, err := useCache(ctx, opts, store, procedures.CacheDomain)
	if err != nil {
		return nil, err
	}

	var f *procedures.Features
	var rows int64
	if cached {
		cacheRows, err := store.Read(ctx, procedures.CacheDomain)
		if err != nil {
			return nil, err
		}
		f, err = procedures.FromCache(cacheRows)
		if err != nil {
			return nil, err
		}
		rows = int64(len(cacheRows))
	} else {
		mapRows, err := source.ReadTable(filepath.Join(opts.MappingRoot, FileOperationMap))
		if err != nil {
			return nil, err
		}
		pm, err := mapping.LoadProcedureMap(mapRows)
		if err != nil {
			return nil, err
		}
		scan := countScanner(source.FileScanner(filepath.Join(opts.DataRoot, FileProcedures), true), &rows)
		f, err = procedures.Extract(reg, scan, pm, rec)
		if err != nil {
			return nil, err
		}
		if err := store.Write(ctx, procedures.CacheDomain, procedures.CacheHeader(), f.CacheRows(reg)); err != nil {
			return nil, err
		}
	}
	rec.StageDone(procedures.CacheDomain, rows, time.Since(start))
	logger.Info().Bool("from_cache", cached).Msg("procedures loaded")
	return f, nil
}

func loadLabs(ctx context.Context, opts Options, store cache.Store, reg *registry.Registry, logger zerolog.Logger, rec *audit.Recorder) (*labs.Features, error) {
	start := time.Now()
	cached, err := useCache(ctx, opts, store, labs.CacheDomain)
	if err != nil {
		return nil, err
	}

	var f *labs.Features
	var rows int64
	if cached {
		cacheRows, err := store.Read(ctx, labs.CacheDomain)
		if err != nil {
			return nil, err
		}
		f, err = labs.FromCache(cacheRows)
		if err != nil {
			return nil, err
		}
		rows = int64(len(cacheRows))
	} else {
		dictRows, err := source.ReadTable(filepath.Join(opts.DataRoot, FileLabDictionary))
		if err != nil {
			return nil, err
		}
		dict, err := mapping.LoadLabDictionary(dictRows)
		if err != nil {
			return nil, err
		}
		events := source.FileScanner(filepath.Join(opts.DataRoot, FileLabEvents), true)
		vocab, err := labs.BuildVocabulary(events, dict, opts.LabMinCount, rec)
		if err != nil {
			return nil, err
		}
		f, err = labs.Extract(reg, countScanner(events, &rows), vocab, rec)
		if err != nil {
			return nil, err
		}
		if err := store.Write(ctx, labs.CacheDomain, labs.CacheHeader(), f.CacheRows(reg)); err != nil {
			return nil, err
		}
	}
	rec.StageDone(labs.CacheDomain, rows, time.Since(start))
	logger.Info().Bool("from_cache", cached).Int("features", len(f.Features())).Msg("lab tests loaded")
	return f, nil
}

func loadDiagnosis(ctx context.Context, opts Options, store cache.Store, reg *registry.Registry, logger zerolog.Logger, rec *audit.Recorder) (*diagnosis.Features, error) {
	start := time.Now()
	cached, err := useCache(ctx, opts, store, diagnosis.CacheDomain)
	if err != nil {
		return nil, err
	}

	var f *diagnosis.Features
	var rows int64
	if cached {
		cacheRows, err := store.Read(ctx, diagnosis.CacheDomain)
		if err != nil {
			return nil, err
		}
		f, err = diagnosis.FromCache(cacheRows)
		if err != nil {
			return nil, err
		}
		rows = int64(len(cacheRows))
	} else {
		mapRows, err := source.ReadTable(filepath.Join(opts.MappingRoot, FileDiagnosisMap))
		if err != nil {
			return nil, err
		}
		dm, err := mapping.LoadDiagnosisMap(mapRows)
		if err != nil {
			return nil, err
		}
		scan := countScanner(source.FileScanner(filepath.Join(opts.DataRoot, FileDiagnoses), true), &rows)
		f, err = diagnosis.Extract(reg, scan, dm, rec)
		if err != nil {
			return nil, err
		}
		if err := store.Write(ctx, diagnosis.CacheDomain, diagnosis.CacheHeader(), f.CacheRows(reg)); err != nil {
			return nil, err
		}
	}
	rec.StageDone(diagnosis.CacheDomain, rows, time.Since(start))
	logger.Info().Bool("from_cache", cached).Msg("diagnoses loaded")
	return f, nil
}

func loadVitals(ctx context.Context, opts Options, store cache.Store, reg *registry.Registry, logger zerolog.Logger, rec *audit.Recorder) (*vitals.Features, error) {
	start := time.Now()
	cached, err := useCache(ctx, opts, store, vitals.CacheDomain)
	if err != nil {
		return nil, err
	}

	var f *vitals.Features
	var rows int64
	if cached {
		cacheRows, err := store.Read(ctx, vitals.CacheDomain)
		if err != nil {
			return nil, err
		}
		f, err = vitals.FromCache(cacheRows)
		if err != nil {
			return nil, err
		}
		rows = int64(len(cacheRows))
	} else {
		scan := countScanner(source.FileScanner(filepath.Join(opts.DataRoot, FileChartEvents), true), &rows)
		f, err = vitals.Extract(reg, scan, rec)
		if err != nil {
			return nil, err
		}
		// BMI is derived before the cache write so the vital_sign domain
		// round-trips with it included.
		derived.ComputeBMI(reg, f)
		if err := store.Write(ctx, vitals.CacheDomain, vitals.CacheHeader(), f.CacheRows(reg)); err != nil {
			return nil, err
		}
	}
	rec.StageDone(vitals.CacheDomain, rows, time.Since(start))
	logger.Info().Bool("from_cache", cached).Msg("vital signs loaded")
	return f, nil
}

// countScanner wraps a Scanner so the pipeline can report scanned row counts
// without the extractors tracking them.
func countScanner(s source.Scanner, n *int64) source.Scanner {
	return func(fn func(row []string) error) error {
		return s(func(row []string) error {
			*n++
			return fn(row)
		})
	}
}
