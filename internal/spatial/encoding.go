package spatial

import (
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// attributeDecoder turns dBase text into UTF-8. A nil enc means the code
// page is unknown: valid UTF-8 is kept and anything else is read as Latin-1.
type attributeDecoder struct {
	enc encoding.Encoding
}

// decoderFor reads the .cpg sidecar of shpPath, if any.
func decoderFor(shpPath string) attributeDecoder {
	cpg, err := findSidecar(shpPath, ".cpg")
	if err != nil {
		return attributeDecoder{}
	}
	data, err := os.ReadFile(cpg)
	if err != nil {
		return attributeDecoder{}
	}
	return attributeDecoder{enc: codePage(string(data))}
}

// codePage maps the contents of a .cpg file to an encoding. UTF-8 and
// unrecognised code pages return nil.
func codePage(name string) encoding.Encoding {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "ANSI ")
	n = strings.NewReplacer("-", "", "_", "", " ", "").Replace(n)
	switch n {
	case "1252", "CP1252", "WINDOWS1252":
		return charmap.Windows1252
	case "88591", "ISO88591", "LATIN1":
		return charmap.ISO8859_1
	case "885915", "ISO885915", "LATIN9":
		return charmap.ISO8859_15
	case "850", "CP850", "IBM850":
		return charmap.CodePage850
	}
	return nil
}

func (d attributeDecoder) decode(s string) (string, error) {
	if d.enc == nil {
		if utf8.ValidString(s) {
			return s, nil
		}
		return charmap.ISO8859_1.NewDecoder().String(s)
	}
	return d.enc.NewDecoder().String(s)
}
