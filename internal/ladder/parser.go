package ladder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/melsecmock/plc/internal/devicemem"
)

// deviceRe splits a device reference like "M100" or "ZR1000" into its
// class-letter prefix and head-number suffix. The suffix's numeral
// base depends on the class's Radix (decimal or hex).
var deviceRe = regexp.MustCompile(`^([A-Za-z]+)([0-9A-Fa-f]+)$`)

// ParseProgram translates GX-Works-style ladder text into the same
// compiled Instruction list the programmatic builder in program.go
// would produce. Errors are line-indexed and carry the offending
// token; a malformed program never produces a partial result.
func ParseProgram(src string) (Program, error) {
	lines := strings.Split(src, "\n")

	var instrs []Instruction
	var debugSrc []string
	sawEnd := false

	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ";") || strings.HasPrefix(line, "//") {
			continue
		}

		fields := strings.Fields(line)
		mnemonic := strings.ToUpper(fields[0])
		args := fields[1:]

		switch mnemonic {
		case "NETWORK", "COMMENT":
			continue
		case "END":
			instrs = append(instrs, END())
			debugSrc = append(debugSrc, line)
			sawEnd = true
		default:
			instr, err := parseInstructionLine(lineNo, mnemonic, args)
			if err != nil {
				return Program{}, err
			}
			instrs = append(instrs, instr)
			debugSrc = append(debugSrc, line)
		}

		if sawEnd {
			break
		}
	}

	if !sawEnd {
		return Program{}, &ParseError{Line: len(lines), Token: "", Msg: "program is missing a terminating END"}
	}

	return Program{Instructions: instrs, Source: debugSrc}, nil
}

func parseInstructionLine(lineNo int, mnemonic string, args []string) (Instruction, error) {
	switch mnemonic {
	case "LD", "LDI", "AND", "ANI", "OR", "ORI":
		d, err := requireOneDevice(lineNo, mnemonic, args)
		if err != nil {
			return Instruction{}, err
		}
		switch mnemonic {
		case "LD":
			return LD(d), nil
		case "LDI":
			return LDI(d), nil
		case "AND":
			return AND(d), nil
		case "ANI":
			return ANI(d), nil
		case "OR":
			return OR(d), nil
		default:
			return ORI(d), nil
		}

	case "ANB":
		return expectNoArgs(lineNo, mnemonic, args, ANB())
	case "ORB":
		return expectNoArgs(lineNo, mnemonic, args, ORB())
	case "MPS":
		return expectNoArgs(lineNo, mnemonic, args, MPS())
	case "MRD":
		return expectNoArgs(lineNo, mnemonic, args, MRD())
	case "MPP":
		return expectNoArgs(lineNo, mnemonic, args, MPP())

	case "OUT", "SET", "RST", "PLS", "PLF":
		d, err := requireOneDevice(lineNo, mnemonic, args)
		if err != nil {
			return Instruction{}, err
		}
		switch mnemonic {
		case "OUT":
			return OUT(d), nil
		case "SET":
			return SET(d), nil
		case "RST":
			return RST(d), nil
		case "PLS":
			return PLS(d), nil
		default:
			return PLF(d), nil
		}

	case "OUT_T", "OUT_C":
		if len(args) != 2 {
			return Instruction{}, perr(lineNo, mnemonic, fmt.Sprintf("%s requires a timer/counter number and a K preset", mnemonic))
		}
		n, err := parseTimerCounterNumber(lineNo, args[0])
		if err != nil {
			return Instruction{}, err
		}
		k, err := parseImmediateK(lineNo, args[1])
		if err != nil {
			return Instruction{}, err
		}
		if mnemonic == "OUT_T" {
			return OutT(n, k), nil
		}
		return OutC(n, k), nil

	case "RST_T", "RST_C":
		if len(args) != 1 {
			return Instruction{}, perr(lineNo, mnemonic, fmt.Sprintf("%s requires a timer/counter number", mnemonic))
		}
		n, err := parseTimerCounterNumber(lineNo, args[0])
		if err != nil {
			return Instruction{}, err
		}
		if mnemonic == "RST_T" {
			return RstT(n), nil
		}
		return RstC(n), nil

	case "MOV":
		if len(args) != 2 {
			return Instruction{}, perr(lineNo, mnemonic, "MOV requires a source and a destination operand")
		}
		src, err := parseValueOperand(lineNo, args[0])
		if err != nil {
			return Instruction{}, err
		}
		dst, err := parseDeviceOperand(lineNo, args[1])
		if err != nil {
			return Instruction{}, err
		}
		return MOV(src, dst), nil

	case "ADD", "SUB", "MUL", "DIV":
		if len(args) != 3 {
			return Instruction{}, perr(lineNo, mnemonic, fmt.Sprintf("%s requires two source operands and a destination", mnemonic))
		}
		a, err := parseValueOperand(lineNo, args[0])
		if err != nil {
			return Instruction{}, err
		}
		b, err := parseValueOperand(lineNo, args[1])
		if err != nil {
			return Instruction{}, err
		}
		dst, err := parseDeviceOperand(lineNo, args[2])
		if err != nil {
			return Instruction{}, err
		}
		switch mnemonic {
		case "ADD":
			return ADD(a, b, dst), nil
		case "SUB":
			return SUB(a, b, dst), nil
		case "MUL":
			return MUL(a, b, dst), nil
		default:
			return DIV(a, b, dst), nil
		}

	default:
		return Instruction{}, perr(lineNo, mnemonic, "unrecognized mnemonic")
	}
}

func requireOneDevice(lineNo int, mnemonic string, args []string) (Operand, error) {
	if len(args) != 1 {
		return Operand{}, perr(lineNo, mnemonic, fmt.Sprintf("%s requires exactly one device operand", mnemonic))
	}
	return parseDeviceOperand(lineNo, args[0])
}

func expectNoArgs(lineNo int, mnemonic string, args []string, instr Instruction) (Instruction, error) {
	if len(args) != 0 {
		return Instruction{}, perr(lineNo, strings.Join(args, " "), mnemonic+" takes no operands")
	}
	return instr, nil
}

// parseDeviceOperand parses a bare device reference. Immediates are
// rejected here: contact/coil positions are a bit context and the
// spec requires that immediates not be accepted there.
func parseDeviceOperand(lineNo int, tok string) (Operand, error) {
	m := deviceRe.FindStringSubmatch(tok)
	if m == nil {
		return Operand{}, perr(lineNo, tok, "not a valid device reference")
	}
	class := strings.ToUpper(m[1])
	c, ok := devicemem.ClassByName(class)
	if !ok {
		return Operand{}, perr(lineNo, tok, fmt.Sprintf("unknown device class %q", class))
	}
	base := 10
	if c.Radix == devicemem.Hex {
		base = 16
	}
	head, err := strconv.ParseInt(m[2], base, 32)
	if err != nil {
		return Operand{}, perr(lineNo, tok, "invalid head number")
	}
	return Device(class, int(head)), nil
}

// parseValueOperand parses a source operand that may be a device
// reference or a K<dec>/H<hex> immediate, used by MOV and arithmetic.
func parseValueOperand(lineNo int, tok string) (Operand, error) {
	if len(tok) >= 2 && (tok[0] == 'K' || tok[0] == 'k') {
		v, err := strconv.ParseInt(tok[1:], 10, 16)
		if err != nil {
			return Operand{}, perr(lineNo, tok, "invalid K immediate")
		}
		return Const(int16(v)), nil
	}
	if len(tok) >= 2 && (tok[0] == 'H' || tok[0] == 'h') {
		v, err := strconv.ParseUint(tok[1:], 16, 32)
		if err != nil {
			return Operand{}, perr(lineNo, tok, "invalid H immediate")
		}
		return Const(int16(uint16(v))), nil
	}
	return parseDeviceOperand(lineNo, tok)
}

func parseTimerCounterNumber(lineNo int, tok string) (int, error) {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, perr(lineNo, tok, "invalid timer/counter number")
	}
	return n, nil
}

func parseImmediateK(lineNo int, tok string) (int, error) {
	if len(tok) < 2 || (tok[0] != 'K' && tok[0] != 'k') {
		return 0, perr(lineNo, tok, "expected K<number> preset")
	}
	n, err := strconv.Atoi(tok[1:])
	if err != nil {
		return 0, perr(lineNo, tok, "invalid preset value")
	}
	return n, nil
}

func perr(line int, token, msg string) error {
	return &ParseError{Line: line, Token: token, Msg: msg}
}
