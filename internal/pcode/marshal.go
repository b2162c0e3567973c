package pcode

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// This file implements the wire encoding spec §6 describes: <jumptable>,
// <loadtable>, and <high>. All three are field-order-sensitive, so encoding
// is done with explicit xml.Encoder token calls rather than struct-tag
// reflection, and decoding walks the token stream directly rather than
// unmarshaling into a tagged struct.

// noCaseLabel is the sentinel meaning "no case label" for a recovered
// destination (spec §6).
const noCaseLabel uint64 = 0xBAD1ABE1BAD1ABE1

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func encodeAddr(enc *xml.Encoder, elem string, a Address) error {
	spaceName := "(null)"
	if a.Space != nil {
		spaceName = a.Space.Name
	}
	start := xml.StartElement{
		Name: xml.Name{Local: elem},
		Attr: []xml.Attr{
			attr("space", spaceName),
			attr("offset", strconv.FormatUint(a.Offset, 16)),
		},
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}

// EncodeJumpTable serializes jt as a <jumptable> element (spec §6):
// <addr>, then one <dest> per recovered address (carrying label= only if
// jt.Labels was ever populated), then collapsed <loadtable> entries.
func EncodeJumpTable(jt *JumpTable, spaces []*AddrSpace) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: "jumptable"}}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}
	if err := encodeAddr(enc, "addr", jt.Op.Seq.Addr); err != nil {
		return nil, err
	}

	hasLabels := len(jt.Labels) == len(jt.AddressTable) && len(jt.Labels) > 0
	codeSpace := addrSpaceOf(spaces)

	for i, dest := range jt.AddressTable {
		attrs := []xml.Attr{
			attr("space", codeSpace),
			attr("offset", strconv.FormatUint(dest, 16)),
		}
		if hasLabels {
			attrs = append(attrs, attr("label", strconv.FormatUint(jt.Labels[i], 16)))
		}
		start := xml.StartElement{Name: xml.Name{Local: "dest"}, Attr: attrs}
		if err := enc.EncodeToken(start); err != nil {
			return nil, err
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return nil, err
		}
	}

	if err := encodeLoadTables(enc, jt.Loadpoints, codeSpace); err != nil {
		return nil, err
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addrSpaceOf(spaces []*AddrSpace) string {
	for _, s := range spaces {
		if s.Type != SpaceConstant && s.Type != SpaceUnique {
			return s.Name
		}
	}
	return "ram"
}

// encodeLoadTables implements the <loadtable> collapse rule (spec §6):
// contiguous load points of identical entry size are merged into one
// <loadtable size=S num=N> element whose own <addr> is its first entry.
func encodeLoadTables(enc *xml.Encoder, points []Address, space string) error {
	if len(points) == 0 {
		return nil
	}
	i := 0
	for i < len(points) {
		j := i + 1
		for j < len(points) {
			// contiguous run; entry size is implicit in caller's stride, so
			// every run here is already of identical entry size by
			// construction (Loadpoints are recorded in address-emulation order).
			if j > i+1 && points[j].Offset-points[j-1].Offset != points[i+1].Offset-points[i].Offset {
				break
			}
			j++
		}
		size := 1
		if j > i+1 {
			size = int(points[i+1].Offset - points[i].Offset)
		}
		start := xml.StartElement{
			Name: xml.Name{Local: "loadtable"},
			Attr: []xml.Attr{attr("size", strconv.Itoa(size)), attr("num", strconv.Itoa(j-i))},
		}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		if err := encodeAddr(enc, "addr", points[i]); err != nil {
			return err
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return err
		}
		i = j
	}
	return nil
}

// DecodeJumpTable parses a <jumptable> element previously produced by
// EncodeJumpTable, resolving space names against spaces.
func DecodeJumpTable(data []byte, spaces []*AddrSpace) (*JumpTable, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	jt := &JumpTable{}
	var sawLabelOnFirstDest bool
	var firstDest = true

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "decoding jumptable")
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "addr":
			a, err := decodeAddrAttrs(se, spaces)
			if err != nil {
				return nil, err
			}
			jt.Op = NewOp(OpBranchind, SeqNum{Addr: a})
		case "dest":
			a, err := decodeAddrAttrs(se, spaces)
			if err != nil {
				return nil, err
			}
			jt.AddressTable = append(jt.AddressTable, a.Offset)
			label, hasLabel := findAttr(se, "label")
			if firstDest {
				sawLabelOnFirstDest = hasLabel
				firstDest = false
			} else if hasLabel != sawLabelOnFirstDest {
				return nil, errors.New("jumptable: label attribute inconsistent across dest entries")
			}
			if sawLabelOnFirstDest {
				v, err := strconv.ParseUint(label, 16, 64)
				if err != nil {
					return nil, errors.Wrap(err, "parsing dest label")
				}
				jt.Labels = append(jt.Labels, v)
			}
		case "loadtable":
			num := 1
			size := 1
			if v, ok := findAttr(se, "num"); ok {
				num, _ = strconv.Atoi(v)
			}
			if v, ok := findAttr(se, "size"); ok {
				size, _ = strconv.Atoi(v)
			}
			first, err := decodeChildAddr(dec, spaces)
			if err != nil {
				return nil, err
			}
			for k := 0; k < num; k++ {
				jt.Loadpoints = append(jt.Loadpoints, Address{Space: first.Space, Offset: first.Offset + uint64(k*size)})
			}
		}
	}
	return jt, nil
}

func decodeChildAddr(dec *xml.Decoder, spaces []*AddrSpace) (Address, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return Address{}, errors.Wrap(err, "decoding loadtable addr")
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "addr" {
			return decodeAddrAttrs(se, spaces)
		}
		if _, ok := tok.(xml.EndElement); ok {
			return Address{}, errors.New("loadtable: missing addr child")
		}
	}
}

func findAttr(se xml.StartElement, name string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func decodeAddrAttrs(se xml.StartElement, spaces []*AddrSpace) (Address, error) {
	spaceName, _ := findAttr(se, "space")
	offsetStr, ok := findAttr(se, "offset")
	if !ok {
		return Address{}, fmt.Errorf("%s: missing offset attribute", se.Name.Local)
	}
	offset, err := strconv.ParseUint(offsetStr, 16, 64)
	if err != nil {
		return Address{}, errors.Wrap(err, "parsing offset")
	}
	for _, s := range spaces {
		if s.Name == spaceName {
			return Address{Space: s, Offset: offset}, nil
		}
	}
	return Address{Offset: offset}, nil
}

// EncodeHigh serializes h as a <high> element (spec §6): repref, class,
// optional typelock, optional symref+offset, then one <addr ref=...> per
// instance.
func EncodeHigh(h *HighVariable) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	attrs := []xml.Attr{
		attr("repref", strconv.FormatUint(uint64(h.RepresentativeCreateIndex()), 10)),
		attr("class", h.Class.String()),
	}
	if h.Typelock {
		attrs = append(attrs, attr("typelock", "true"))
	}
	if h.Symref != nil {
		attrs = append(attrs, attr("symref", *h.Symref))
		attrs = append(attrs, attr("offset", strconv.Itoa(h.Offset)))
	}
	root := xml.StartElement{Name: xml.Name{Local: "high"}, Attr: attrs}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}
	for _, vn := range h.Instances {
		start := xml.StartElement{
			Name: xml.Name{Local: "addr"},
			Attr: []xml.Attr{attr("ref", refString(vn))},
		}
		if err := enc.EncodeToken(start); err != nil {
			return nil, err
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return nil, err
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func refString(vn *Varnode) string {
	spaceName := "(null)"
	if vn.Addr.Space != nil {
		spaceName = vn.Addr.Space.Name
	}
	return fmt.Sprintf("%s:%x:%d", spaceName, vn.Addr.Offset, vn.CreateIndex)
}
