package config

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/durationpb" // Registers google/protobuf/duration.proto.
)

const schemaPackage = "glimpse"

// schemaFile describes the layout of a glimpse config file. Every leaf field is named after the flag it sets; nested
// messages only group the flags by the component consuming them.
//
//	message Config {
//	  optional LoggingConfig logging = 1;
//	  optional ServerConfig server = 2;
//	  optional ImageCacheConfig image_cache = 3;
//	  optional PrefetchConfig prefetch = 4;
//	}
var schemaFile = &descriptorpb.FileDescriptorProto{
	Name:       proto.String("glimpse/config.proto"),
	Package:    proto.String(schemaPackage),
	Syntax:     proto.String("proto2"),
	Dependency: []string{"google/protobuf/duration.proto"},
	MessageType: []*descriptorpb.DescriptorProto{
		schemaMessage("Config",
			messageField("logging", 1, "LoggingConfig"),
			messageField("server", 2, "ServerConfig"),
			messageField("image_cache", 3, "ImageCacheConfig"),
			messageField("prefetch", 4, "PrefetchConfig"),
		),
		schemaMessage("LoggingConfig",
			scalarField("log_handler_type", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("log_level", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
		),
		schemaMessage("ServerConfig",
			scalarField("address", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("metrics_address", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
		),
		schemaMessage("ImageCacheConfig",
			scalarField("image_cache_capacity", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32),
		),
		schemaMessage("PrefetchConfig",
			durationField("prefetch_timeout", 1),
			scalarField("prefetch_user_agent", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("prefetch_max_bytes", 3, descriptorpb.FieldDescriptorProto_TYPE_INT64),
			scalarField("render_store_capacity", 4, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			durationField("render_store_ttl", 5),
			durationField("render_store_reap_interval", 6),
		),
	},
}

// configDescriptor is the root message of a config file.
var configDescriptor = mustBuildSchema(schemaFile).Messages().ByName("Config")

func mustBuildSchema(fdp *descriptorpb.FileDescriptorProto) protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("invalid config schema: %v", err))
	}
	return fd
}

func schemaMessage(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func scalarField(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   kind.Enum(),
	}
}

func messageField(name string, number int32, message string) *descriptorpb.FieldDescriptorProto {
	field := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	field.TypeName = proto.String("." + schemaPackage + "." + message)
	return field
}

func durationField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	field := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	field.TypeName = proto.String(".google.protobuf.Duration")
	return field
}
