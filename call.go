package deployer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// uint256Type is used to validate wei values.
var uint256Type, _ = abi.NewType("uint256", "", nil)

// action is a future with every argument substituted, ready for the network.
// Actions are built only after all dependencies are Confirmed.
type action struct {
	future *Future
	from   common.Address
	to     *common.Address // nil for Deploy
	value  *big.Int
	data   []byte
}

// newAction substitutes resolved values into f and encodes its calldata.
// sender is the engine default used when f declares no from.
func newAction(f *Future, rs *runState, sender *common.Address) (*action, error) {
	raw := make([]any, len(f.args))
	for i, arg := range f.args {
		v, err := rs.substitute(arg)
		if err != nil {
			return nil, &ArgumentError{Method: f.methodName(), Index: i, Err: err}
		}
		raw[i] = v
	}
	args, err := coerceArgs(f.methodName(), f.inputs(), raw)
	if err != nil {
		return nil, err
	}

	act := &action{future: f}

	switch f.kind {
	case Deploy:
		packed, err := f.artifact.ABI.Pack("", args...)
		if err != nil {
			return nil, fmt.Errorf("deployer: pack constructor of %s: %w", f.artifact.Name, err)
		}
		act.data = append(common.CopyBytes(f.artifact.Bytecode), packed...)

	case Call, StaticCall:
		packed, err := f.method.Inputs.Pack(args...)
		if err != nil {
			return nil, fmt.Errorf("deployer: pack %s: %w", f.methodName(), err)
		}
		act.data = append(common.CopyBytes(f.method.ID), packed...)

		target, err := rs.substitute(f.target)
		if err != nil {
			return nil, err
		}
		addr, err := toAddress(target)
		if err != nil {
			return nil, fmt.Errorf("deployer: call target: %w", err)
		}
		act.to = &addr
	}

	switch {
	case f.from != nil:
		v, err := rs.substitute(f.from)
		if err != nil {
			return nil, err
		}
		if act.from, err = toAddress(v); err != nil {
			return nil, fmt.Errorf("deployer: sender: %w", err)
		}
	case sender != nil:
		act.from = *sender
	case f.kind != StaticCall:
		return nil, ErrMissingSender
	}

	if f.value != nil {
		v, err := rs.substitute(f.value)
		if err != nil {
			return nil, err
		}
		n, err := toBigInt(v)
		if err != nil {
			return nil, fmt.Errorf("deployer: value: %w", err)
		}
		if err := checkIntRange(uint256Type, n); err != nil {
			return nil, err
		}
		act.value = n
	}

	return act, nil
}

// txRequest converts the action to a network transaction.
func (a *action) txRequest() TxRequest {
	return TxRequest{From: a.from, To: a.to, Data: a.data, Value: a.value}
}

// callRequest converts the action to a simulated call.
func (a *action) callRequest() CallRequest {
	return CallRequest{From: a.from, To: a.to, Data: a.data, Value: a.value}
}

// decodeResult turns return data into the future's resolved value.
func (a *action) decodeResult(data []byte) (ResolvedValue, error) {
	return valueFromOutputs(a.future.method.Outputs, data)
}
