// Package insts provides instruction definitions, bit-pattern matching and
// the mode-aware lookup structure used to decode target instructions.
//
// Definitions are written in a bit-group notation, most significant group
// first:
//
//	add := insts.MustDefine("base", "add", "6x01 4x- 4x- 4x- 12x- 2x3", 32, translateAdd)
//
// Definitions of one width form a Class, classes form a Collection, and
// collections are projected into a ModedSet:
//
//	set := insts.NewModedSet(insts.ModeSpec{Mode: 0, Name: "default", Widths: []int{16, 32}})
//	_ = insts.NewCollection("base", wide, narrow).AddTo(set, 0)
//	set.Freeze()
//	def, word, ok := set.Lookup(code, binary.LittleEndian, 0)
package insts
