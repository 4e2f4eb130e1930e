package benchmarks

import (
	"github.com/rafzi/etiss/arch/mini"
	"github.com/rafzi/etiss/hooks"
	"github.com/rafzi/etiss/hooks/timer"
	"github.com/rafzi/etiss/regs"
)

// GetMicrobenchmarks returns the standard set of mini32 workloads. Each
// one stresses a different part of the simulator.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticSequential(),
		dependencyChain(),
		memorySequential(),
		functionCalls(),
		branchTaken(),
		loopSimulation(),
		divideHeavy(),
		compressedMix(),
		timerInterrupts(),
	}
}

// GetCoreBenchmarks returns a minimal set for quick validation.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		loopSimulation(),
		branchTaken(),
		functionCalls(),
	}
}

// BuildProgram assembles 32-bit instruction words.
func BuildProgram(instrs ...uint32) []byte {
	return new(mini.Program).Emit(instrs...).Bytes()
}

// 1. Arithmetic Sequential - independent ALU operations in one long block
func arithmeticSequential() Benchmark {
	instrs := make([]uint32, 0, 21)
	for i := 0; i < 4; i++ {
		for r := 1; r <= 5; r++ {
			instrs = append(instrs, mini.Addi(r, r, 1))
		}
	}
	instrs = append(instrs, mini.Halt())

	return Benchmark{
		Name:           "arithmetic_sequential",
		Description:    "20 independent ADDI operations - measures straight-line translation",
		Program:        BuildProgram(instrs...),
		ExpectedResult: 4,
	}
}

// 2. Dependency Chain - one register updated over and over
func dependencyChain() Benchmark {
	return Benchmark{
		Name:           "dependency_chain",
		Description:    "20 dependent ADDs (r1 = r1 + r2)",
		Setup:          writeRegister("r2", 3),
		Program:        buildDependencyChain(20),
		ExpectedResult: 60,
	}
}

func buildDependencyChain(n int) []byte {
	instrs := make([]uint32, 0, n+1)
	for i := 0; i < n; i++ {
		instrs = append(instrs, mini.Add(1, 1, 2))
	}
	instrs = append(instrs, mini.Halt())
	return BuildProgram(instrs...)
}

// 3. Memory Sequential - store/load pairs through the scratchpad
func memorySequential() Benchmark {
	instrs := []uint32{mini.Addi(1, 0, 42)}
	for off := int32(0); off < 40; off += 4 {
		instrs = append(instrs, mini.Sw(1, 0, off), mini.Lw(1, 0, off), mini.Addi(1, 1, 1))
	}
	instrs = append(instrs, mini.Halt())

	return Benchmark{
		Name:           "memory_sequential",
		Description:    "10 store/load pairs to sequential scratchpad words",
		Program:        BuildProgram(instrs...),
		ExpectedResult: 52,
	}
}

// 4. Function Calls - JAL/JR pairs, one block per call and return
func functionCalls() Benchmark {
	p := new(mini.Program)
	// main: five calls to add3 at PC 12
	for i := 0; i < 5; i++ {
		p.Emit(mini.Jal(15, p.Offset(12)))
	}
	p.Emit(mini.Halt())
	// add3:
	p.Emit(mini.Addi(1, 1, 3), mini.Jr(15))

	return Benchmark{
		Name:           "function_calls",
		Description:    "5 calls of a two instruction function",
		Program:        p.Bytes(),
		ExpectedResult: 15,
	}
}

// 5. Branch Taken - every conditional branch is taken
func branchTaken() Benchmark {
	p := new(mini.Program)
	for i := 0; i < 5; i++ {
		p.Emit(
			mini.Addi(1, 1, 1),
			mini.Beq(0, 0, 4),
			mini.Addi(1, 1, 100),
		)
	}
	p.Emit(mini.Halt())

	return Benchmark{
		Name:           "branch_taken",
		Description:    "5 taken BEQs that skip an instruction",
		Program:        p.Bytes(),
		ExpectedResult: 5,
	}
}

// 6. Loop Simulation - a counted loop whose body stays cached
func loopSimulation() Benchmark {
	p := new(mini.Program).Emit(
		mini.Addi(2, 0, 100),
		mini.Addi(1, 0, 0),
	)
	loop := p.PC()
	p.Emit(mini.Add(1, 1, 2), mini.Addi(2, 2, -1))
	p.Emit(mini.Bne(2, 0, p.Offset(loop)), mini.Halt())

	return Benchmark{
		Name:           "loop_simulation",
		Description:    "sum of 1..100 in a loop - measures block cache reuse",
		Program:        p.Bytes(),
		ExpectedResult: 5050,
	}
}

// 7. Divide Heavy - expensive instructions in the cost model
func divideHeavy() Benchmark {
	instrs := []uint32{mini.Addi(1, 0, 1000), mini.Addi(2, 0, 2)}
	for i := 0; i < 5; i++ {
		instrs = append(instrs, mini.Divu(1, 1, 2), mini.Mul(3, 1, 2))
	}
	instrs = append(instrs, mini.Halt())

	return Benchmark{
		Name:           "divide_heavy",
		Description:    "5 DIVU/MUL pairs - measures multi-cycle instruction costs",
		Program:        BuildProgram(instrs...),
		ExpectedResult: 31,
	}
}

// 8. Compressed Mix - 16-bit and 32-bit encodings interleaved
func compressedMix() Benchmark {
	p := new(mini.Program)
	for i := 0; i < 8; i++ {
		p.EmitC(mini.CAddi(1, 2))
		p.Emit(mini.Addi(1, 1, 1))
		p.EmitC(mini.CNop())
	}
	p.Emit(mini.Halt())

	return Benchmark{
		Name:           "compressed_mix",
		Description:    "16-bit C.ADDI/C.NOP mixed with 32-bit ADDI",
		Program:        p.Bytes(),
		ExpectedResult: 24,
	}
}

// 9. Timer Interrupts - a busy loop interrupted by hooks/timer
func timerInterrupts() Benchmark {
	const handler = 0x40

	p := new(mini.Program).Emit(
		mini.Addi(3, 0, handler*2),
		mini.Csrw(mini.CSREVec, 3),
		mini.Addi(3, 0, 1),
		mini.Csrw(mini.CSRIMask, 3),
		mini.Addi(3, 0, 50),
		mini.Csrw(mini.CSRTPeriod, 3),
		mini.Addi(3, 0, mini.StatusIE),
		mini.Csrw(mini.CSRStatus, 3),
	)
	// spin until five interrupts were counted in r1
	spin := p.PC()
	p.Emit(mini.Addi(4, 0, 5))
	p.Emit(mini.Blt(1, 4, p.Offset(spin)))
	p.Emit(mini.Halt())
	for p.PC() < handler {
		p.EmitC(mini.CNop())
	}
	// handler: count, acknowledge line 0, return
	p.Emit(
		mini.Addi(1, 1, 1),
		mini.Csrw(mini.CSRIPend, 0),
		mini.Eret(),
	)

	return Benchmark{
		Name:        "timer_interrupts",
		Description: "busy loop woken 5 times by a 50 cycle timer",
		Hooks: func() []hooks.Hook {
			return []hooks.Hook{timer.New(0), &hooks.Limit{Blocks: 100000}}
		},
		Program:        p.Bytes(),
		ExpectedResult: 5,
	}
}

func writeRegister(name string, v uint64) func(*regs.Struct) error {
	return func(r *regs.Struct) error {
		return r.Write(name, v)
	}
}
