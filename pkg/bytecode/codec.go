package bytecode

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/feral-lang/feral/pkg/source"
)

// Magic identifies a compiled bytecode file; Version lets a future codec refuse to
// load a file produced by an incompatible encoder (§6 "Compiled-bytecode on-disk
// format").
var Magic = [4]byte{'F', 'R', 'A', 'L'}

const Version uint16 = 1

// byteOrder is little-endian throughout, per §6.
var byteOrder = binary.LittleEndian

// WriteFile serializes 'reg' (the sources referenced by 'modules') and 'modules' to
// 'w' in the exact layout §6 specifies: magic, version, source table, module table.
func WriteFile(w io.Writer, reg *source.Registry, modules []*Module) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(Magic[:]); err != nil {
		return errors.Wrap(err, "write magic")
	}
	if err := binary.Write(bw, byteOrder, Version); err != nil {
		return errors.Wrap(err, "write version")
	}

	units := reg.Units()
	if err := binary.Write(bw, byteOrder, uint32(len(units))); err != nil {
		return errors.Wrap(err, "write source count")
	}
	for _, u := range units {
		if err := binary.Write(bw, byteOrder, u.ID); err != nil {
			return errors.Wrap(err, "write source id")
		}
		if err := writeString(bw, u.Path); err != nil {
			return errors.Wrap(err, "write source path")
		}
	}

	if err := binary.Write(bw, byteOrder, uint32(len(modules))); err != nil {
		return errors.Wrap(err, "write module count")
	}
	for _, m := range modules {
		if err := binary.Write(bw, byteOrder, m.ID); err != nil {
			return errors.Wrap(err, "write module source id")
		}
		if err := binary.Write(bw, byteOrder, uint32(len(m.Bytecode))); err != nil {
			return errors.Wrap(err, "write bytecode length")
		}
		for i := range m.Bytecode {
			if err := writeInstruction(bw, &m.Bytecode[i]); err != nil {
				return errors.Wrapf(err, "write instruction %d", i)
			}
		}
	}

	return bw.Flush()
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, byteOrder, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeInstruction(w io.Writer, ins *Instruction) error {
	if err := binary.Write(w, byteOrder, uint8(ins.Op)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, ins.Loc.SourceID); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint32(ins.Loc.OffsetStart)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint32(ins.Loc.OffsetEnd)); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint8(ins.Tag)); err != nil {
		return err
	}

	switch ins.Tag {
	case IntData:
		return binary.Write(w, byteOrder, ins.IntVal)
	case FltData:
		return binary.Write(w, byteOrder, ins.FltVal)
	case BoolData:
		b := uint8(0)
		if ins.BoolVal {
			b = 1
		}
		return binary.Write(w, byteOrder, b)
	case StrData, IdenData:
		return writeString(w, ins.StrVal)
	default:
		// NoData / NilData: every other field (Arg/Target) is still owned by the
		// instruction; persist them unconditionally since the tag only governs the
		// Value-shaped payload the spec describes.
		if err := binary.Write(w, byteOrder, ins.Arg); err != nil {
			return err
		}
		return binary.Write(w, byteOrder, ins.Target)
	}
}

// ReadFile is the inverse of WriteFile; round-tripping a Module through
// WriteFile/ReadFile must yield an opcode-for-opcode, payload-for-payload equal
// Module (§8 "Round-trip").
func ReadFile(r io.Reader, reg *source.Registry) ([]*Module, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, errors.Wrap(err, "read magic")
	}
	if magic != Magic {
		return nil, errors.New("not a compiled bytecode file: bad magic")
	}

	var version uint16
	if err := binary.Read(br, byteOrder, &version); err != nil {
		return nil, errors.Wrap(err, "read version")
	}
	if version != Version {
		return nil, errors.Errorf("unsupported bytecode version %d", version)
	}

	var sourceCount uint32
	if err := binary.Read(br, byteOrder, &sourceCount); err != nil {
		return nil, errors.Wrap(err, "read source count")
	}
	for i := uint32(0); i < sourceCount; i++ {
		var id uint64
		if err := binary.Read(br, byteOrder, &id); err != nil {
			return nil, errors.Wrap(err, "read source id")
		}
		path, err := readString(br)
		if err != nil {
			return nil, errors.Wrap(err, "read source path")
		}
		reg.Reserve(id, path)
	}

	var moduleCount uint32
	if err := binary.Read(br, byteOrder, &moduleCount); err != nil {
		return nil, errors.Wrap(err, "read module count")
	}
	modules := make([]*Module, 0, moduleCount)
	for i := uint32(0); i < moduleCount; i++ {
		var id uint64
		if err := binary.Read(br, byteOrder, &id); err != nil {
			return nil, errors.Wrap(err, "read module source id")
		}
		var length uint32
		if err := binary.Read(br, byteOrder, &length); err != nil {
			return nil, errors.Wrap(err, "read bytecode length")
		}
		code := make([]Instruction, length)
		for j := uint32(0); j < length; j++ {
			ins, err := readInstruction(br)
			if err != nil {
				return nil, errors.Wrapf(err, "read instruction %d", j)
			}
			code[j] = *ins
		}
		modules = append(modules, &Module{ID: id, Bytecode: code})
	}

	return modules, nil
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, byteOrder, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readInstruction(r io.Reader) (*Instruction, error) {
	var opByte, tagByte uint8
	if err := binary.Read(r, byteOrder, &opByte); err != nil {
		return nil, err
	}
	ins := &Instruction{Op: Opcode(opByte)}

	if err := binary.Read(r, byteOrder, &ins.Loc.SourceID); err != nil {
		return nil, err
	}
	var start, end uint32
	if err := binary.Read(r, byteOrder, &start); err != nil {
		return nil, err
	}
	if err := binary.Read(r, byteOrder, &end); err != nil {
		return nil, err
	}
	ins.Loc.OffsetStart, ins.Loc.OffsetEnd = int(start), int(end)

	if err := binary.Read(r, byteOrder, &tagByte); err != nil {
		return nil, err
	}
	ins.Tag = DataTag(tagByte)

	switch ins.Tag {
	case IntData:
		if err := binary.Read(r, byteOrder, &ins.IntVal); err != nil {
			return nil, err
		}
	case FltData:
		if err := binary.Read(r, byteOrder, &ins.FltVal); err != nil {
			return nil, err
		}
	case BoolData:
		var b uint8
		if err := binary.Read(r, byteOrder, &b); err != nil {
			return nil, err
		}
		ins.BoolVal = b != 0
	case StrData, IdenData:
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		ins.StrVal = s
	default:
		if err := binary.Read(r, byteOrder, &ins.Arg); err != nil {
			return nil, err
		}
		if err := binary.Read(r, byteOrder, &ins.Target); err != nil {
			return nil, err
		}
	}

	return ins, nil
}
