// Package main provides C API bindings for the mepassa engine, enabling
// host applications written in other languages to embed it as described
// in spec.md §4.10's "FFI / host boundary".
//
// # Build Instructions
//
// To build as a C shared library:
//
//	go build -buildmode=c-shared -o libmepassa.so ./capi/
//
// This generates libmepassa.so and an auto-generated libmepassa.h header.
//
// # C API Usage
//
//	int h = mepassa_new("/path/to/data", "https://registry.example", "https://offline.example");
//	if (h < 0) { /* handle error */ }
//
//	char *message_id = mepassa_send_text(h, "peer-bob", "hello");
//	mepassa_free_string(message_id);
//
//	char *conversations_json = mepassa_list_conversations(h);
//	mepassa_free_string(conversations_json);
//
//	mepassa_kill(h);
//
// # Instance Management
//
// Each mepassa_new call starts its own engine command loop on a
// background goroutine and returns an opaque integer handle. Every other
// function takes that handle; mepassa_kill stops the loop and releases
// the instance. Handles are never reused within a process lifetime.
//
// # Memory Management
//
// Every function returning char* returns a freshly allocated C string the
// caller must release with mepassa_free_string. Functions returning int
// use a negative value to signal failure.
package main
