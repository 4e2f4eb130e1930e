// Package main provides the entry point for ETISS.
// ETISS is a retargetable instruction set simulator that translates guest
// code into blocks and runs them through a pluggable JIT backend.
//
// For the full CLI, use: go run ./cmd/etiss
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("ETISS - retargetable instruction set simulator")
	fmt.Println("")
	fmt.Println("Usage: etiss <command> [options]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  run        Run a program until it halts")
	fmt.Println("  disasm     Disassemble a program")
	fmt.Println("  registers  Describe the registers of the architecture")
	fmt.Println("  list       List the available architectures and backends")
	fmt.Println("  config     Write the effective configuration")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/etiss' for the full CLI and")
	fmt.Println("'go run ./cmd/benchmark' for the benchmark harness.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/etiss' instead.")
	}
}
