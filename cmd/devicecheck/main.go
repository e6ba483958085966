package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const validateTokenMethod = "/leadr.client.v1.DeviceTrust/ValidateToken"

func main() {
	addr := flag.String("addr", "localhost:50051", "gRPC address of leadr-core")
	token := flag.String("token", "", "device access token to check")
	flag.Parse()

	if *token == "" {
		log.Fatal("-token is required")
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, validateTokenMethod, wrapperspb.String(*token), out); err != nil {
		log.Fatalf("ValidateToken failed: %v", err)
	}

	body, err := protojson.MarshalOptions{Multiline: true}.Marshal(out)
	if err != nil {
		log.Fatalf("encode response: %v", err)
	}
	fmt.Println(string(body))
}
