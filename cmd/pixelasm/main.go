// Command pixelasm assembles pixelvm assembly source into a raw ROM binary,
// or disassembles a ROM binary back into assembly text.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/pixelvm-project/pixelvm/asm"
)

func main() {
	outFile := flag.String("o", "", "output file (default: input with .rom or .asm swapped in)")
	disassemble := flag.Bool("d", false, "disassemble a ROM binary instead of assembling source")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pixelasm [options] input\n\nAssembles pixelvm assembly source into a ROM binary.\n\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pixelasm program.asm\n")
		fmt.Fprintf(os.Stderr, "  pixelasm -o program.rom program.asm\n")
		fmt.Fprintf(os.Stderr, "  pixelasm -d program.rom\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	inputPath := flag.Arg(0)

	data, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var output []byte
	var defaultOutputPath string

	if *disassemble {
		text, err := asm.Disassemble(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		output = []byte(text)
		defaultOutputPath = strings.TrimSuffix(inputPath, ".rom") + ".asm"
	} else {
		rom, err := asm.Assemble(string(data))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		output = rom
		defaultOutputPath = strings.TrimSuffix(inputPath, ".asm") + ".rom"
	}

	outputPath := *outFile
	if outputPath == "" {
		outputPath = defaultOutputPath
	}

	if err := os.WriteFile(outputPath, output, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing %s: %v\n", outputPath, err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s (%d bytes)\n", outputPath, len(output))
}
