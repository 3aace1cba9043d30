// Package main provides the CLI entry point for vidtensor-inspect, a
// read-only diagnostic tool over the vidtensor package's public API.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	vidtensor "github.com/five82/vidtensor"
	"github.com/five82/vidtensor/internal/diag"
	"github.com/five82/vidtensor/internal/discovery"
	"github.com/five82/vidtensor/internal/logging"
)

const (
	appName    = "vidtensor-inspect"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "inspect":
		if err := runInspect(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "inspect-dir":
		if err := runInspectDir(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("%s version %s\n", appName, appVersion)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - Video tensor loader diagnostic tool

Usage:
  %s <command> [options]

Commands:
  inspect <path>       Open a video or tar archive and print its packet index
  inspect-dir <dir>    Discover video files in a directory and inspect each
  version              Print version information
  help                 Show this help message
`, appName, appName)
}

func runInspectDir(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("inspect-dir requires a directory argument")
	}

	files, err := discovery.FindVideoFiles(args[0])
	if err != nil {
		return err
	}

	logger, err := logging.Setup(logging.DefaultLogDir(), false, false, os.Args)
	if err != nil {
		return err
	}
	defer logger.Close()

	r := diag.New(os.Stdout)
	bar := diag.NewProgressBar(len(files), "inspecting")
	for _, path := range files {
		if err := inspectFile(r, logger, path); err != nil {
			logger.Info("skipping %s: %v", path, err)
		}
		_ = bar.Add(1)
	}
	return nil
}

func runInspect(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("inspect requires a path argument")
	}
	path := args[0]

	logger, err := logging.Setup(logging.DefaultLogDir(), false, false, os.Args)
	if err != nil {
		return err
	}
	defer logger.Close()

	r := diag.New(os.Stdout)

	if strings.HasSuffix(path, ".tar") {
		return inspectTar(r, logger, path)
	}
	return inspectFile(r, logger, path)
}

func inspectFile(r *diag.Reporter, logger *logging.Logger, path string) error {
	logger.Info("opening %s", path)
	v, err := vidtensor.OpenVideo(path)
	if err != nil {
		r.Error("%v", err)
		return err
	}
	defer v.Sleep()

	printVideoInfo(r, filepath.Base(path), v)
	return nil
}

func inspectTar(r *diag.Reporter, logger *logging.Logger, path string) error {
	logger.Info("opening tar archive %s", path)
	videos, err := vidtensor.OpenVideoTar(path, nil, 4)
	if err != nil {
		r.Error("%v", err)
		return err
	}

	bar := diag.NewProgressBar(len(videos), "inspecting")
	for _, v := range videos {
		printVideoInfo(r, v.Name(), v)
		_ = v.Sleep()
		_ = bar.Add(1)
	}
	return nil
}

func printVideoInfo(r *diag.Reporter, name string, v *vidtensor.Video) {
	r.Section(name)
	r.Field("frames", v.NumFrames())
	num, den := v.AverageFrameRate()
	r.Field("frame rate", fmt.Sprintf("%d/%d", num, den))
	r.Field("duration", fmt.Sprintf("%.2fs", v.Duration()))
	r.Field("bit rate", v.BitRate())
}
