/*
Package domain contains the core domain models of the one-sided communication runtime.

It defines the vocabulary shared by the RMA core and the runtime adapters. This package
is kept pure and free of I/O, following Hexagonal Architecture principles.

# Key Entities

  - Rank: The integer identifier of a process within a communication scope.
  - Group: An immutable ordered set of ranks used to scope active-target epochs.
  - Descriptor: The wire layout and byte size of a window element type.
  - LifecycleHooks: Callbacks fired on window lifecycle, transfers and epochs.
*/
package domain
