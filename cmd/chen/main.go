// Chen CLI - the main entry point for running Chen programs
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	chen "github.com/zuisong/chen-lang"
	"github.com/zuisong/chen-lang/cache"
	"github.com/zuisong/chen-lang/manifest"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 = quiet)")
	noCache := flag.Bool("no-cache", false, "Bypass the bytecode cache")
	output := flag.String("o", "", "Output path for build (defaults to <src>.chb)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: chen [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run <path|->     Compile and run a .ch file (- reads stdin)\n")
		fmt.Fprintf(os.Stderr, "  build <path>     Compile to a .chb bytecode image\n")
		fmt.Fprintf(os.Stderr, "  disasm <path>    Print the bytecode listing\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  chen run main.ch\n")
		fmt.Fprintf(os.Stderr, "  echo 'println(1 + 2)' | chen run -\n")
		fmt.Fprintf(os.Stderr, "  chen -o main.chb build main.ch\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(2)
	}
	command, target := args[0], args[1]

	commonlog.Configure(*verbosity, nil)

	man, err := manifest.Find(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ip, err := chen.New(chen.Options{Manifest: man, NoCache: *noCache})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer ip.Close()

	switch command {
	case "run":
		src, name, err := readSource(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if _, err := ip.RunSource(src, name); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

	case "build":
		src, name, err := readSource(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		prog, err := ip.CompileSource(src, name)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		blob, err := cache.MarshalProgram(prog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		out := *output
		if out == "" {
			out = strings.TrimSuffix(target, ".ch") + ".chb"
		}
		if err := os.WriteFile(out, blob, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s (%d bytes, %d instructions)\n", out, len(blob), len(prog.Code))

	case "disasm":
		src, name, err := readSource(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		prog, err := ip.CompileSource(src, name)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Print(prog.Disassemble())

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", command)
		flag.Usage()
		os.Exit(2)
	}
}

// readSource loads a file, or standard input when the path is "-".
func readSource(path string) (src, name string, err error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", err
		}
		return string(data), "<stdin>", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return string(data), path, nil
}
