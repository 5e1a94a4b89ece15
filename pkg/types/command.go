package types

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// type of FSM command
type CommandType uint

const (
	CommandTypeSet CommandType = iota + 1
	CommandTypeRemove
)

// interface all FSM commands implement
type Command interface {
	Type() CommandType
}

// overwrites a key
type SetCmd struct {
	Writer string
	Key    string
	Value  string
}

func (c SetCmd) Type() CommandType { return CommandTypeSet }

// deletes a key
type RemoveCmd struct {
	Writer string
	Key    string
}

func (c RemoveCmd) Type() CommandType { return CommandTypeRemove }

// wire field numbers of an encoded command
const (
	fieldType   protowire.Number = 1
	fieldWriter protowire.Number = 2
	fieldKey    protowire.Number = 3
	fieldValue  protowire.Number = 4
)

// encodes a command into protobuf wire format for the raft log
func EncodeCommand(cmd Command) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cmd.Type()))

	switch c := cmd.(type) {
	case SetCmd:
		b = appendString(b, fieldWriter, c.Writer)
		b = appendString(b, fieldKey, c.Key)
		b = appendString(b, fieldValue, c.Value)
	case RemoveCmd:
		b = appendString(b, fieldWriter, c.Writer)
		b = appendString(b, fieldKey, c.Key)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	return b, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// decodes a raft log payload back into a command
// unknown fields are skipped
func DecodeCommand(b []byte) (Command, error) {
	var (
		typ                CommandType
		writer, key, value string
	)

	for len(b) > 0 {
		num, wt, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && wt == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("decode type: %w", protowire.ParseError(m))
			}
			typ = CommandType(v)
			n = m
		case (num == fieldWriter || num == fieldKey || num == fieldValue) && wt == protowire.BytesType:
			s, m := protowire.ConsumeString(b)
			if m < 0 {
				return nil, fmt.Errorf("decode field %d: %w", num, protowire.ParseError(m))
			}
			switch num {
			case fieldWriter:
				writer = s
			case fieldKey:
				key = s
			default:
				value = s
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, wt, b)
			if n < 0 {
				return nil, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}

	switch typ {
	case CommandTypeSet:
		return SetCmd{Writer: writer, Key: key, Value: value}, nil
	case CommandTypeRemove:
		return RemoveCmd{Writer: writer, Key: key}, nil
	default:
		return nil, fmt.Errorf("%w: type %d", ErrUnknownCommand, typ)
	}
}
