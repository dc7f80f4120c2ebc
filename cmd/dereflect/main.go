// Command dereflect removes reflections from a single image file.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/setanarut/dereflect"
	"github.com/setanarut/dereflect/appconfig"
	"github.com/setanarut/dereflect/utils"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	inPath := flag.String("in", "", "input image path")
	outPath := flag.String("out", "", "output image path (.png or .jpg)")
	configFilename := flag.String("config", "", "optional YAML config file")
	h := flag.Float64("h", -1, "gradient threshold in [0, 1] (default from config)")
	lambda := flag.Float64("lambda", -1, "Laplacian weight in [0, 1] (default from config)")
	mu := flag.Float64("mu", -1, "squared-Laplacian weight in [0, 1] (default from config)")
	eps := flag.Float64("eps", -1, "stabilizer, > 0 (default from config)")
	workers := flag.Int("workers", 0, "channels solved concurrently (default from config)")
	normalizeRHS := flag.Bool("normalize-rhs", false, "rescale the joint right-hand side into [0, 1] before solving")
	maxSide := flag.Int("max-side", -1, "downscale to fit this side length, 0 disables (default from config)")
	debugDir := flag.String("debug", "", "write intermediate fields below this directory")
	palettePath := flag.String("palette", "", "write a palette swatch of the result to this path")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *inPath == "" || *outPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := appconfig.Load(*configFilename)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Flags override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "h":
			cfg.Suppression.H = *h
		case "lambda":
			cfg.Suppression.Lambda = *lambda
		case "mu":
			cfg.Suppression.Mu = *mu
		case "eps":
			cfg.Suppression.Epsilon = *eps
		case "workers":
			cfg.Suppression.Workers = *workers
		case "normalize-rhs":
			cfg.Suppression.NormalizeRHS = *normalizeRHS
		case "max-side":
			cfg.MaxSide = uint(max(0, *maxSide))
		case "debug":
			cfg.DebugDir = *debugDir
		}
	})
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	setupLogging(cfg)

	if err := run(cfg, *inPath, *outPath, *palettePath); err != nil {
		log.Fatal().Err(err).Str("image", *inPath).Msg("dereflect failed")
	}
}

func setupLogging(cfg appconfig.Config) {
	level, err := cfg.LogLevel()
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Human {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func run(cfg appconfig.Config, inPath, outPath, palettePath string) error {
	start := time.Now()
	log.Debug().Str("image", inPath).Msg(filepath.Base(inPath))

	src, err := utils.ReadImage(inPath)
	if err != nil {
		return err
	}
	src = utils.Downscale(src, cfg.MaxSide)

	rs, err := dereflect.NewReflectionSuppressor(cfg.Options())
	if err != nil {
		return err
	}
	var store *utils.DebugStorage
	if cfg.DebugDir != "" {
		store, err = utils.NewDebugStorage(cfg.DebugDir)
		if err != nil {
			return err
		}
		rs = rs.WithObserver(store)
	}

	in := utils.FromImage(src)
	out, err := rs.RemoveReflections(in)
	if err != nil {
		return err
	}
	res := utils.ToImage(out)
	if err := utils.SaveImage(res, outPath); err != nil {
		return err
	}

	if store != nil {
		if err := store.StoreImage(res, utils.GroupResult, "final_output"); err != nil {
			return err
		}
		if err := store.Err(); err != nil {
			return err
		}
		log.Info().Str("dir", store.Dir()).Int("files", len(store.Files())).Msg("debug images stored")
	}

	if palettePath != "" {
		method, err := cfg.PaletteMethod()
		if err != nil {
			return err
		}
		palette := utils.ExtractPalette(res, cfg.Palette.Size, method)
		utils.SortByLightness(palette)
		if err := utils.SavePalette(palette, 64, palettePath); err != nil {
			return err
		}
		log.Info().Strs("palette", utils.PaletteHex(palette)).Msg("palette saved")
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return err
	}
	log.Info().
		Ints("shape", in.Shape()).
		Float64("h", cfg.Suppression.H).
		Str("out", outPath).
		Str("size", humanize.Bytes(uint64(info.Size()))).
		Dur("elapsed", time.Since(start)).
		Msg("reflections removed")
	return nil
}
