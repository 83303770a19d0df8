package document

// Assemble merges decoded files into a single Document. entry names the
// module whose _config (and _meta) governs the run; other files' _config
// blocks are ignored. Files keep their given order, which becomes module
// declaration order.
func Assemble(files []*File, entry string) (*Document, error) {
	if len(files) == 0 {
		return nil, schemaErrorf("", "", "no document files to assemble")
	}

	doc := &Document{Config: DefaultConfig(), Entry: entry}
	seen := make(map[string]bool)
	for _, f := range files {
		if seen[f.Module.Name] {
			return nil, schemaErrorf(f.Module.Name, "", "duplicate module name")
		}
		seen[f.Module.Name] = true
		doc.Modules = append(doc.Modules, f.Module)

		if f.Module.Name == entry {
			if f.Config != nil {
				doc.Config = *f.Config
			}
			doc.Meta = f.Meta
			// The entry module's wiring doubles as document-level wiring.
			doc.Wiring = f.Module.Wiring
		}
	}
	if entry != "" && !seen[entry] {
		return nil, schemaErrorf(entry, "", "entry module not found among loaded files")
	}
	return doc, nil
}

// ModuleByName looks up a module by name.
func (d *Document) ModuleByName(name string) *Module {
	for _, m := range d.Modules {
		if m.Name == name {
			return m
		}
	}
	return nil
}
