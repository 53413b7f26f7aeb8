// Package main provides the Cantor component tool.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cantor-asr/cantor/backend/cpu"
	"github.com/cantor-asr/cantor/nn"
	"github.com/cantor-asr/cantor/serialization"
)

const version = "v0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	switch os.Args[1] {
	case "version":
		fmt.Printf("Cantor %s\n", version)
	case "info":
		if len(os.Args) < 3 {
			fatal("info needs a configuration line")
		}
		info(strings.Join(os.Args[2:], " "))
	case "inspect":
		if len(os.Args) != 3 {
			fatal("inspect needs a model file")
		}
		inspect(os.Args[2])
	default:
		usage()
		os.Exit(2)
	}
}

// info builds a component from a configuration line and prints its
// diagnostics.
func info(line string) {
	conv, err := nn.NewConv3DFromConfig(cpu.New(), line)
	if err != nil {
		fatal(err.Error())
	}
	defer conv.Destroy()
	fmt.Println(conv.Info())
	fmt.Printf("input-dim=%d output-dim=%d num-parameters=%d\n",
		conv.InputDim(), conv.OutputDim(), conv.NumParameters())
}

// inspect reads a serialized component and prints its diagnostics.
func inspect(path string) {
	f, err := os.Open(path)
	if err != nil {
		fatal(err.Error())
	}
	defer f.Close()

	r, err := serialization.NewReader(f)
	if err != nil {
		fatal(err.Error())
	}
	conv, err := nn.ReadConv3D(cpu.New(), r)
	if err != nil {
		fatal(err.Error())
	}
	defer conv.Destroy()
	fmt.Println(conv.Info())
}

func usage() {
	fmt.Println("Cantor - 3-D convolution components for speech models")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version           Show version")
	fmt.Println("  info <config>     Build a component from a config line and describe it")
	fmt.Println("  inspect <file>    Describe a serialized component")
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "cantor:", msg)
	os.Exit(1)
}
