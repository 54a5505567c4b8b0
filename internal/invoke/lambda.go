package invoke

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/flocksql/flock/internal/domain"
)

// LambdaAPI is the subset of *lambda.Client the invoker depends on.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, opts ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvoker delivers payloads as AWS Lambda invocations, the concrete
// cloud-function platform this repository targets. A stage name maps
// directly to a deployed function name (spec §6 "a stage's name is the
// name of the function that runs it").
type LambdaInvoker struct {
	client LambdaAPI
}

// NewLambdaInvoker constructs a LambdaInvoker over client.
func NewLambdaInvoker(client LambdaAPI) *LambdaInvoker {
	return &LambdaInvoker{client: client}
}

// Invoke marshals payload to JSON and invokes the named Lambda function.
// Synchronous calls use RequestResponse and decode the function's
// returned Payload; async calls use Event and return immediately with a
// zero Payload, matching Lambda's own async invocation contract.
func (l *LambdaInvoker) Invoke(ctx context.Context, stageName string, payload domain.Payload, sync bool) (domain.Payload, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Payload{}, fmt.Errorf("invoke: marshal payload for %s: %w", stageName, err)
	}

	invocationType := types.InvocationTypeEvent
	if sync {
		invocationType = types.InvocationTypeRequestResponse
	}

	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(stageName),
		InvocationType: invocationType,
		Payload:        body,
	})
	if err != nil {
		return domain.Payload{}, fmt.Errorf("invoke: lambda %s: %w", stageName, err)
	}
	if out.FunctionError != nil {
		return domain.Payload{}, fmt.Errorf("invoke: lambda %s returned function error %q: %s", stageName, *out.FunctionError, out.Payload)
	}
	if !sync || len(out.Payload) == 0 {
		return domain.Payload{}, nil
	}

	var resp domain.Payload
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		return domain.Payload{}, fmt.Errorf("invoke: unmarshal response from %s: %w", stageName, err)
	}
	return resp, nil
}
