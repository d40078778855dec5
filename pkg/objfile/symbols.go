package objfile

import (
	"debug/elf"
	"sort"

	"github.com/derekparker/trie"
)

// Sym is a function symbol of the executable.
type Sym struct {
	Name string
	Addr uint64
	Size uint64
}

// Funcs returns the function symbols of the executable sorted by
// address. Executables without a symbol table return an empty slice.
func (f *File) Funcs() []Sym {
	f.symOnce.Do(f.loadSymbols)
	return f.syms
}

func (f *File) loadSymbols() {
	syms := collectFuncSymbols(f.elfFile, f.staticBase)
	if len(syms) == 0 && f.sepFile != nil {
		syms = collectFuncSymbols(f.sepFile, f.staticBase)
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i].Addr < syms[j].Addr })

	// The same function can appear in both the symbol table and the
	// dynamic symbol table.
	uniq := syms[:0]
	for _, s := range syms {
		if len(uniq) > 0 && uniq[len(uniq)-1].Addr == s.Addr && uniq[len(uniq)-1].Name == s.Name {
			continue
		}
		uniq = append(uniq, s)
	}
	f.syms = uniq

	f.symTrie = trie.New()
	for i := range f.syms {
		f.symTrie.Add(f.syms[i].Name, i)
	}
}

func collectFuncSymbols(ef *elf.File, staticBase uint64) []Sym {
	var out []Sym
	symtab, _ := ef.Symbols()
	dynsym, _ := ef.DynamicSymbols()
	for _, tab := range [][]elf.Symbol{symtab, dynsym} {
		for _, s := range tab {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
				continue
			}
			out = append(out, Sym{Name: s.Name, Addr: s.Value + staticBase, Size: s.Size})
		}
	}
	return out
}

// FuncForName returns the function symbol with the given name.
func (f *File) FuncForName(name string) (Sym, bool) {
	f.symOnce.Do(f.loadSymbols)
	node, ok := f.symTrie.Find(name)
	if !ok {
		return Sym{}, false
	}
	return f.syms[node.Meta().(int)], true
}

// FuncsWithPrefix returns the names of all function symbols starting
// with prefix.
func (f *File) FuncsWithPrefix(prefix string) []string {
	f.symOnce.Do(f.loadSymbols)
	return f.symTrie.PrefixSearch(prefix)
}

// FuncForPC returns the function symbol containing pc.
func (f *File) FuncForPC(pc uint64) (Sym, bool) {
	f.symOnce.Do(f.loadSymbols)
	syms := f.syms
	i := sort.Search(len(syms), func(i int) bool { return syms[i].Addr > pc }) - 1
	if i < 0 {
		return Sym{}, false
	}
	s := syms[i]
	if s.Size > 0 && pc >= s.Addr+s.Size {
		return Sym{}, false
	}
	return s, true
}
